// Package config loads chest settings and resolves the per target settings carried by container labels.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by chest (CHEST_REPOSITORY, CHEST_LOG_LEVEL...).
const EnvPrefix = "CHEST"

// Config holds the global settings. Container labels override most of them per target.
type Config struct {
	// Repository is used for every target that has no chest.repository label.
	Repository string `mapstructure:"repository"`
	// BackupsDir holds one repository per target when no repository is configured.
	BackupsDir   string        `mapstructure:"backups_dir"`
	Prefix       string        `mapstructure:"prefix"`
	Prune        string        `mapstructure:"prune"`
	Passphrase   string        `mapstructure:"passphrase"`
	KeepRunning  bool          `mapstructure:"keep_running"`
	Image        string        `mapstructure:"image"`
	GracePeriod  time.Duration `mapstructure:"grace_period"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	LogLevel     string        `mapstructure:"log_level"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		BackupsDir:   "~/backups",
		Image:        "ceymard/borg:1.2.8",
		GracePeriod:  time.Second,
		PollInterval: 250 * time.Millisecond,
		LogLevel:     "info",
	}
}

// SetDefaults registers default values with v.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("repository", defaults.Repository)
	v.SetDefault("backups_dir", defaults.BackupsDir)
	v.SetDefault("prefix", defaults.Prefix)
	v.SetDefault("prune", defaults.Prune)
	v.SetDefault("passphrase", defaults.Passphrase)
	v.SetDefault("keep_running", defaults.KeepRunning)
	v.SetDefault("image", defaults.Image)
	v.SetDefault("grace_period", defaults.GracePeriod)
	v.SetDefault("poll_interval", defaults.PollInterval)
	v.SetDefault("log_level", defaults.LogLevel)
}

// Init prepares v: defaults, environment, and the config file. An empty cfgFile looks for config.yaml in Dir().
// A missing default config file is not an error.
func Init(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// borg's own variables are honored as fallbacks
	_ = v.BindEnv("prune", EnvPrefix+"_PRUNE", "BORG_PRUNE")
	_ = v.BindEnv("passphrase", EnvPrefix+"_PASSPHRASE", "BORG_PASSPHRASE")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", cfgFile, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(Dir())
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

// Load reads the configuration from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that cannot be used as they are.
func (c *Config) Validate() error {
	var errs []error
	if c.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("grace_period must not be negative, got %s", c.GracePeriod))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.Image == "" {
		errs = append(errs, errors.New("image must not be empty"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

// Dir returns the directory holding config.yaml.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "chest")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chest"
	}
	return filepath.Join(home, ".config", "chest")
}
