package version_test

import (
	"testing"

	"github.com/edumarques81/kittunes-backend/internal/version"
)

func TestVersionInfo(t *testing.T) {
	t.Run("Version should not be empty", func(t *testing.T) {
		if version.Version == "" {
			t.Error("Version should not be empty")
		}
	})

	t.Run("Name should be KitTunes", func(t *testing.T) {
		if version.Name != "KitTunes" {
			t.Errorf("Expected name 'KitTunes', got '%s'", version.Name)
		}
	})
}

func TestGetInfo(t *testing.T) {
	info := version.GetInfo()

	if info.Name != version.Name {
		t.Errorf("Expected name '%s', got '%s'", version.Name, info.Name)
	}
	if info.Version != version.Version {
		t.Errorf("Expected version '%s', got '%s'", version.Version, info.Version)
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		name string
		info version.Info
		want string
	}{
		{"plain", version.Info{Name: "KitTunes", Version: "1.2.3"}, "KitTunes v1.2.3"},
		{"short commit", version.Info{Name: "KitTunes", Version: "1.2.3", GitCommit: "abc"}, "KitTunes v1.2.3 (abc)"},
		{
			"full",
			version.Info{Name: "KitTunes", Version: "1.2.3", GitCommit: "0123456789abcdef", BuildTime: "2026-10-01"},
			"KitTunes v1.2.3 (0123456) built 2026-10-01",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
