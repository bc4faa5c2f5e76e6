// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Medium types
const (
	MediumMemory = "memory"
	MediumFile   = "file"
	MediumMmap   = "mmap"
	MediumNVS    = "nvs"
	MediumSQLite = "sqlite"
)

const defaultImageSize = 16 * 1024

// Config defines the global configuration structure
type Config struct {
	Preferences PreferencesConfig `mapstructure:"preferences"`
	Log         LogConfig         `mapstructure:"log"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// PreferencesConfig defines the preference store
type PreferencesConfig struct {
	DefaultInFlash bool          `mapstructure:"default_in_flash"` // Placement for MakeDefault
	SyncInterval   time.Duration `mapstructure:"sync_interval"`    // Periodic sync, 0 disables
	Flash          MediumConfig  `mapstructure:"flash"`            // Persistent slots
	Volatile       MediumConfig  `mapstructure:"volatile"`         // Slots lost on restart
}

// MediumConfig defines one storage medium
type MediumConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap", "nvs", "sqlite"
	Path string `mapstructure:"path"` // Used by every type except "memory"
	Size int    `mapstructure:"size"` // Image size for "file" and "mmap"
}

// LoadConfig loads configuration from file, environment and flags.
// flags may be nil. A missing config file is not an error.
func LoadConfig(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/nvprefs/")
		v.AddConfigPath("$HOME/.nvprefs")
		v.AddConfigPath(".")
	}

	// Set defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("preferences.default_in_flash", true)
	v.SetDefault("preferences.sync_interval", time.Minute)
	v.SetDefault("preferences.flash.type", MediumMmap)
	v.SetDefault("preferences.flash.path", "preferences.bin")
	v.SetDefault("preferences.flash.size", defaultImageSize)
	v.SetDefault("preferences.volatile.type", MediumMemory)
	v.SetDefault("preferences.volatile.path", "")
	v.SetDefault("preferences.volatile.size", 0)

	v.SetEnvPrefix("NVPREFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// The config may come from defaults, environment and flags alone
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate / Fixups
	config.Log.Level = strings.ToLower(config.Log.Level)
	if err := fixupMedium("preferences.flash", &config.Preferences.Flash); err != nil {
		return nil, err
	}
	if err := fixupMedium("preferences.volatile", &config.Preferences.Volatile); err != nil {
		return nil, err
	}
	if sameMedium(config.Preferences.Flash, config.Preferences.Volatile) {
		return nil, fmt.Errorf("preferences.volatile must not share %s medium %q with preferences.flash", config.Preferences.Flash.Type, config.Preferences.Flash.Path)
	}
	if config.Preferences.SyncInterval < 0 {
		return nil, fmt.Errorf("preferences.sync_interval must not be negative")
	}

	return &config, nil
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"log-file":   "log.file",
	"flash-type": "preferences.flash.type",
	"flash-path": "preferences.flash.path",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

func fixupMedium(key string, m *MediumConfig) error {
	m.Type = strings.ToLower(strings.TrimSpace(m.Type))
	switch m.Type {
	case MediumMemory:
		return nil
	case MediumFile, MediumMmap:
		if m.Size == 0 {
			m.Size = defaultImageSize
		}
		if m.Size < 0 {
			return fmt.Errorf("%s.size must be positive", key)
		}
	case MediumNVS, MediumSQLite:
	default:
		return fmt.Errorf("%s.type: unknown medium type %q", key, m.Type)
	}
	if strings.TrimSpace(m.Path) == "" {
		return fmt.Errorf("%s.path is required for medium type %q", key, m.Type)
	}
	return nil
}

// sameMedium reports whether two media would open the same backing store.
func sameMedium(a, b MediumConfig) bool {
	if a.Type == MediumMemory || b.Type == MediumMemory {
		return false
	}
	return filepath.Clean(a.Path) == filepath.Clean(b.Path)
}
