// Package config loads deckview settings from the environment, with
// defaults for everything. Command line flags override the loaded values.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// DefaultEnvPrefix prefixes every environment variable, e.g.
	// DECKVIEW_API_URL.
	DefaultEnvPrefix = "DECKVIEW"

	// DefaultAPIURL is the local development backend.
	DefaultAPIURL = "http://localhost:8000/api"

	// DefaultViewerAddr binds the viewer to an ephemeral loopback port.
	DefaultViewerAddr = "127.0.0.1:0"

	// DefaultDebounce is the playback navigation window.
	DefaultDebounce = 300 * time.Millisecond

	// DefaultAttachTimeout bounds control channel injection.
	DefaultAttachTimeout = 5 * time.Second

	// DefaultRequestTimeout bounds one backend call.
	DefaultRequestTimeout = 2 * time.Minute

	// DefaultDebugLevel is the log level for every subsystem.
	DefaultDebugLevel = "info"

	dbFileName = "deckview.db"
	logDirName = "logs"
)

// Config holds the client settings.
type Config struct {
	APIURL         string        `mapstructure:"api_url"`
	DataDir        string        `mapstructure:"data_dir"`
	ViewerAddr     string        `mapstructure:"viewer_addr"`
	Debounce       time.Duration `mapstructure:"debounce"`
	AttachTimeout  time.Duration `mapstructure:"attach_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	DebugLevel     string        `mapstructure:"debuglevel"`
}

// DefaultDataDir returns ~/.deckview.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	return filepath.Join(home, ".deckview"), nil
}

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"api-url":         "api_url",
	"data-dir":        "data_dir",
	"viewer-addr":     "viewer_addr",
	"debounce":        "debounce",
	"attach-timeout":  "attach_timeout",
	"request-timeout": "request_timeout",
	"debuglevel":      "debuglevel",
}

// Load reads the configuration from DECKVIEW_* environment variables.
func Load() (*Config, error) {
	return LoadFlags(nil)
}

// LoadFlags is Load with the flags in fs taking precedence over the
// environment. Only flags the user set override anything; flags missing
// from fs are skipped.
func LoadFlags(fs *pflag.FlagSet) (*Config, error) {
	dataDir, err := DefaultDataDir()
	if err != nil {
		return nil, err
	}

	v := viper.NewWithOptions(
		viper.KeyDelimiter("."),
		viper.EnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_")),
	)

	v.SetEnvPrefix(DefaultEnvPrefix)
	v.AutomaticEnv()

	defaults := map[string]any{
		"api_url":         DefaultAPIURL,
		"data_dir":        dataDir,
		"viewer_addr":     DefaultViewerAddr,
		"debounce":        DefaultDebounce,
		"attach_timeout":  DefaultAttachTimeout,
		"request_timeout": DefaultRequestTimeout,
		"debuglevel":      DefaultDebugLevel,
	}
	for key, value := range defaults {
		_ = v.BindEnv(key)
		v.SetDefault(key, value)
	}

	if fs != nil {
		for name, key := range flagKeys {
			flag := fs.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("unable to bind --%s: %w",
					name, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("invalid api_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid api_url %q: scheme must be http "+
			"or https", c.APIURL)
	}

	if c.DataDir == "" {
		return errors.New("data_dir must be set")
	}

	for name, d := range map[string]time.Duration{
		"debounce":        c.Debounce,
		"attach_timeout":  c.AttachTimeout,
		"request_timeout": c.RequestTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}

	return nil
}

// DBPath is the durable session store inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, dbFileName)
}

// LogDir is where the rotating log file lives.
func (c *Config) LogDir() string {
	return filepath.Join(c.DataDir, logDirName)
}
