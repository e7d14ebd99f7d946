package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kittunes.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "")

	cfg, err := Load([]string{"--config", path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	d := Default()
	if cfg.Server.Port != "3001" {
		t.Errorf("Server.Port = %q, want 3001", cfg.Server.Port)
	}
	if cfg.MPD.Host != "localhost" || cfg.MPD.Port != 6600 {
		t.Errorf("MPD = %s:%d, want localhost:6600", cfg.MPD.Host, cfg.MPD.Port)
	}
	if cfg.Player.Backend != BackendMPD {
		t.Errorf("Player.Backend = %q, want %q", cfg.Player.Backend, BackendMPD)
	}
	if cfg.Deezer.BaseURL != "https://api.deezer.com" || cfg.Deezer.Limit != 25 || cfg.Deezer.Timeout != 15*time.Second {
		t.Errorf("Deezer = %+v", cfg.Deezer)
	}
	if cfg.Data.Dir != "data" || cfg.History.Limit != 50 {
		t.Errorf("Data.Dir = %q, History.Limit = %d", cfg.Data.Dir, cfg.History.Limit)
	}
	if cfg.Player.MPVSocket != d.Player.MPVSocket {
		t.Errorf("Player.MPVSocket = %q, want %q", cfg.Player.MPVSocket, d.Player.MPVSocket)
	}
	if cfg.Log.Debug {
		t.Error("Log.Debug should default to false")
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, `
[server]
port = "4000"

[mpd]
host = "music.local"
port = 6601

[deezer]
limit = 10
timeout = "3s"

[history]
limit = 20
`)
	t.Setenv("KITTUNES_MPD_HOST", "env.local")
	t.Setenv("KITTUNES_DEEZER_LIMIT", "15")

	cfg, err := Load([]string{"--config", path, "--search-limit", "5", "--debug"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"file overrides default", cfg.Server.Port, "4000"},
		{"file value kept", cfg.MPD.Port, 6601},
		{"env overrides file", cfg.MPD.Host, "env.local"},
		{"flag overrides env", cfg.Deezer.Limit, 5},
		{"file duration", cfg.Deezer.Timeout, 3 * time.Second},
		{"file history limit", cfg.History.Limit, 20},
		{"debug flag", cfg.Log.Debug, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load([]string{"--config", filepath.Join(t.TempDir(), "missing.toml")})
	if err == nil {
		t.Fatal("expected an error for a missing explicit config file")
	}
}

func TestLoadRejectsBadFlags(t *testing.T) {
	if _, err := Load([]string{"--no-such-flag"}); err == nil {
		t.Fatal("expected an error for an unknown flag")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"mpv backend", func(c *Config) { c.Player.Backend = BackendMPV }, false},
		{"unknown backend", func(c *Config) { c.Player.Backend = "vlc" }, true},
		{"empty port", func(c *Config) { c.Server.Port = " " }, true},
		{"bad mpd port", func(c *Config) { c.MPD.Port = 0 }, true},
		{"mpv without socket", func(c *Config) {
			c.Player.Backend = BackendMPV
			c.Player.MPVSocket = ""
		}, true},
		{"zero search limit", func(c *Config) { c.Deezer.Limit = 0 }, true},
		{"zero deezer timeout", func(c *Config) { c.Deezer.Timeout = 0 }, true},
		{"zero history limit", func(c *Config) { c.History.Limit = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDataPaths(t *testing.T) {
	cfg := Default()
	cfg.Data.Dir = "/var/lib/kittunes"

	if got := cfg.SessionPath(); got != "/var/lib/kittunes/session.db" {
		t.Errorf("SessionPath() = %q", got)
	}
	if got := cfg.PlaylistPath(); got != "/var/lib/kittunes/playlists.db" {
		t.Errorf("PlaylistPath() = %q", got)
	}
}
