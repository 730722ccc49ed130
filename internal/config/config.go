// Package config loads qtrc-extract's runtime settings with Viper, the
// same way the teacher's device package loads DMG handling options: a
// named config file searched across a handful of conventional paths,
// environment-variable overrides, and defaults that keep the tool
// working with no config file present at all.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the settings that control an extraction run.
type Config struct {
	// OutputDir is the directory extracted files are written under.
	OutputDir string `mapstructure:"output_dir"`
	// Verbose enables per-candidate discovery narration.
	Verbose bool `mapstructure:"verbose"`
	// Quiet suppresses all narration, the final summary included; only
	// errors are still printed.
	Quiet bool `mapstructure:"quiet"`
	// MaxCandidates bounds how many name tables the orchestrator will
	// attempt before giving up, guarding against pathological scans of
	// very large or adversarial inputs.
	MaxCandidates int `mapstructure:"max_candidates"`
}

// Load reads qtrc-extract's configuration using Viper, per the teacher's
// LoadDMGConfig: a config file is optional, defaults cover every field,
// and QTRC_-prefixed environment variables override both.
func Load() (*Config, error) {
	viper.SetConfigName("qtrc-extract")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("../..") // for tests running from subdirectories
	viper.AddConfigPath("$HOME/.qtrc-extract")
	viper.AddConfigPath("/etc/qtrc-extract")

	viper.SetDefault("output_dir", ".")
	viper.SetDefault("verbose", false)
	viper.SetDefault("quiet", false)
	viper.SetDefault("max_candidates", 64)

	viper.SetEnvPrefix("QTRC")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("qtrc: reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("qtrc: unmarshaling config: %w", err)
	}

	return &cfg, nil
}
