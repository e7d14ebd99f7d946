// Package config loads the backend configuration from a TOML file,
// KITTUNES_ environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Playback backends.
const (
	BackendMPD = "mpd"
	BackendMPV = "mpv"
)

// Config holds all runtime settings.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	MPD     MPDConfig     `mapstructure:"mpd"`
	Player  PlayerConfig  `mapstructure:"player"`
	Deezer  DeezerConfig  `mapstructure:"deezer"`
	Data    DataConfig    `mapstructure:"data"`
	History HistoryConfig `mapstructure:"history"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Port                 string `mapstructure:"port"`
	MaxClientsPerAddress int    `mapstructure:"max_clients_per_address"`
}

type MPDConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
}

type PlayerConfig struct {
	Backend   string `mapstructure:"backend"`
	MPVSocket string `mapstructure:"mpv_socket"`
	// MPVBinary is spawned when set; otherwise an already running mpv is used.
	MPVBinary string `mapstructure:"mpv_binary"`
}

type DeezerConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	APIHost string        `mapstructure:"api_host"`
	Limit   int           `mapstructure:"limit"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

type HistoryConfig struct {
	Limit int `mapstructure:"limit"`
}

type LogConfig struct {
	Debug bool `mapstructure:"debug"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Server:  ServerConfig{Port: "3001", MaxClientsPerAddress: 4},
		MPD:     MPDConfig{Host: "localhost", Port: 6600},
		Player:  PlayerConfig{Backend: BackendMPD, MPVSocket: filepath.Join(os.TempDir(), "kittunes-mpv.sock")},
		Deezer:  DeezerConfig{BaseURL: "https://api.deezer.com", Limit: 25, Timeout: 15 * time.Second},
		Data:    DataConfig{Dir: "data"},
		History: HistoryConfig{Limit: 50},
	}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"config":                  "",
	"port":                    "server.port",
	"max-clients-per-address": "server.max_clients_per_address",
	"mpd-host":                "mpd.host",
	"mpd-port":                "mpd.port",
	"mpd-password":            "mpd.password",
	"backend":                 "player.backend",
	"mpv-socket":              "player.mpv_socket",
	"mpv-binary":              "player.mpv_binary",
	"deezer-url":              "deezer.base_url",
	"deezer-key":              "deezer.api_key",
	"deezer-host":             "deezer.api_host",
	"search-limit":            "deezer.limit",
	"deezer-timeout":          "deezer.timeout",
	"data-dir":                "data.dir",
	"history-limit":           "history.limit",
	"debug":                   "log.debug",
}

// NewFlagSet declares the command-line flags understood by Load.
func NewFlagSet(name string) *pflag.FlagSet {
	d := Default()
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "Path to a kittunes.toml file")
	fs.String("port", d.Server.Port, "HTTP server port")
	fs.Int("max-clients-per-address", d.Server.MaxClientsPerAddress, "Maximum concurrent Socket.io clients per remote address")
	fs.String("mpd-host", d.MPD.Host, "MPD host")
	fs.Int("mpd-port", d.MPD.Port, "MPD port")
	fs.String("mpd-password", "", "MPD password")
	fs.String("backend", d.Player.Backend, "Playback backend (mpd or mpv)")
	fs.String("mpv-socket", d.Player.MPVSocket, "mpv IPC socket path")
	fs.String("mpv-binary", "", "mpv binary to spawn (empty attaches to a running mpv)")
	fs.String("deezer-url", d.Deezer.BaseURL, "Deezer API base URL")
	fs.String("deezer-key", "", "RapidAPI key for the Deezer proxy")
	fs.String("deezer-host", "", "RapidAPI host for the Deezer proxy")
	fs.Int("search-limit", d.Deezer.Limit, "Maximum search results")
	fs.Duration("deezer-timeout", d.Deezer.Timeout, "Deezer request timeout")
	fs.String("data-dir", d.Data.Dir, "Directory for the session and playlist databases")
	fs.Int("history-limit", d.History.Limit, "Number of recently played songs to keep")
	fs.Bool("debug", false, "Enable debug logging")
	return fs
}

// Load parses args and merges flags, environment, config file and
// defaults, in that order of precedence.
func Load(args []string) (*Config, error) {
	fs := NewFlagSet("kittunes")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return load(fs)
}

func load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	for name, key := range flagKeys {
		if key == "" {
			continue
		}
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	v.SetEnvPrefix("KITTUNES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kittunes")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "kittunes"))
		}
		v.AddConfigPath("/etc/kittunes")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.max_clients_per_address", d.Server.MaxClientsPerAddress)
	v.SetDefault("mpd.host", d.MPD.Host)
	v.SetDefault("mpd.port", d.MPD.Port)
	v.SetDefault("mpd.password", d.MPD.Password)
	v.SetDefault("player.backend", d.Player.Backend)
	v.SetDefault("player.mpv_socket", d.Player.MPVSocket)
	v.SetDefault("player.mpv_binary", d.Player.MPVBinary)
	v.SetDefault("deezer.base_url", d.Deezer.BaseURL)
	v.SetDefault("deezer.api_key", d.Deezer.APIKey)
	v.SetDefault("deezer.api_host", d.Deezer.APIHost)
	v.SetDefault("deezer.limit", d.Deezer.Limit)
	v.SetDefault("deezer.timeout", d.Deezer.Timeout)
	v.SetDefault("data.dir", d.Data.Dir)
	v.SetDefault("history.limit", d.History.Limit)
	v.SetDefault("log.debug", d.Log.Debug)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Port) == "" {
		return errors.New("server.port must not be empty")
	}
	switch c.Player.Backend {
	case BackendMPD:
		if c.MPD.Host == "" || c.MPD.Port <= 0 {
			return fmt.Errorf("invalid MPD address %s:%d", c.MPD.Host, c.MPD.Port)
		}
	case BackendMPV:
		if c.Player.MPVSocket == "" {
			return errors.New("player.mpv_socket must not be empty")
		}
	default:
		return fmt.Errorf("unknown player backend %q (want %s or %s)", c.Player.Backend, BackendMPD, BackendMPV)
	}
	if c.Deezer.Limit <= 0 {
		return fmt.Errorf("deezer.limit must be positive, got %d", c.Deezer.Limit)
	}
	if c.Deezer.Timeout <= 0 {
		return fmt.Errorf("deezer.timeout must be positive, got %s", c.Deezer.Timeout)
	}
	if c.History.Limit <= 0 {
		return fmt.Errorf("history.limit must be positive, got %d", c.History.Limit)
	}
	return nil
}

// SessionPath is the bbolt session database location.
func (c *Config) SessionPath() string {
	return filepath.Join(c.Data.Dir, "session.db")
}

// PlaylistPath is the SQLite playlist database location.
func (c *Config) PlaylistPath() string {
	return filepath.Join(c.Data.Dir, "playlists.db")
}
