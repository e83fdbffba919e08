// Package config loads server settings from a YAML file, the environment
// and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/alimasry/go-block-editor/command"
)

const (
	// FileName is the config file looked up in the working directory.
	FileName  = "blockeditor"
	EnvPrefix = "BLOCKEDITOR"
)

// Store backends.
const (
	StoreMemory    = "memory"
	StoreBadger    = "badger"
	StoreFirestore = "firestore"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Addr             string                  `mapstructure:"addr" yaml:"addr"`
	Store            string                  `mapstructure:"store" yaml:"store"`
	BadgerDir        string                  `mapstructure:"badger_dir" yaml:"badger_dir"`
	FirestoreProject string                  `mapstructure:"firestore_project" yaml:"firestore_project"`
	FlushInterval    time.Duration           `mapstructure:"flush_interval" yaml:"flush_interval"`
	LogLevel         string                  `mapstructure:"log_level" yaml:"log_level"`
	Headings         []command.HeadingOption `mapstructure:"headings" yaml:"headings"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Addr:          ":8080",
		Store:         StoreMemory,
		BadgerDir:     "data",
		FlushInterval: 5 * time.Second,
		LogLevel:      "info",
		Headings:      command.DefaultHeadingOptions(),
	}
}

// SetDefaults registers every key with its default so environment
// variables are picked up for all of them.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("addr", d.Addr)
	v.SetDefault("store", d.Store)
	v.SetDefault("badger_dir", d.BadgerDir)
	v.SetDefault("firestore_project", d.FirestoreProject)
	v.SetDefault("flush_interval", d.FlushInterval)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("headings", d.Headings)
}

// NewViper returns a viper instance that reads cfgFile, or blockeditor.yaml
// from the working directory when cfgFile is empty, plus BLOCKEDITOR_*
// environment variables.
func NewViper(cfgFile string) *viper.Viper {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads the config file if there is one and decodes the result. A
// missing default config file is not an error.
func Load(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StoreBadger:
		if c.BadgerDir == "" {
			return fmt.Errorf("%w: badger_dir is required for the badger store", ErrInvalidConfig)
		}
	case StoreFirestore:
		if c.FirestoreProject == "" {
			return fmt.Errorf("%w: firestore_project is required for the firestore store", ErrInvalidConfig)
		}
		if c.FlushInterval <= 0 {
			return fmt.Errorf("%w: flush_interval must be positive", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	}

	seen := make(map[string]bool, len(c.Headings))
	for i, h := range c.Headings {
		if h.Model == "" || h.View == "" {
			return fmt.Errorf("%w: heading %d needs a model and a view", ErrInvalidConfig, i)
		}
		if seen[h.Model] {
			return fmt.Errorf("%w: heading model %q listed twice", ErrInvalidConfig, h.Model)
		}
		seen[h.Model] = true
	}
	return nil
}

// Write encodes c as YAML.
func (c Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// WriteFile writes c to path, refusing to overwrite an existing file.
func (c Config) WriteFile(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if err := c.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
