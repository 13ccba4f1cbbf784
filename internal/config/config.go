// Package config loads the cell's startup configuration using viper: config
// file, then WAFERCELL_-prefixed environment overrides, then defaults for
// anything still unset.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DispatchConfig selects and tunes the dispatch policy.
type DispatchConfig struct {
	Policy       string `mapstructure:"policy"` // immediate | poll | broadcast | pheromone | batch
	BypassBound  int    `mapstructure:"bypass_bound"`
	PollInterval string `mapstructure:"poll_interval"`

	Pheromone PheromoneConfig `mapstructure:"pheromone"`
}

// PheromoneConfig mirrors dispatch.PheromoneConfig in config-file form
// (durations as strings, per viper convention).
type PheromoneConfig struct {
	Alpha             float64 `mapstructure:"alpha"`
	Beta              float64 `mapstructure:"beta"`
	EvaporationRate   float64 `mapstructure:"evaporation_rate"`
	EvaporationPeriod string  `mapstructure:"evaporation_period"`
	TauMin            float64 `mapstructure:"tau_min"`
	TauMax            float64 `mapstructure:"tau_max"`
	Delta0            float64 `mapstructure:"delta0"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// HTTPConfig controls the control-plane listener.
type HTTPConfig struct {
	Listen string `mapstructure:"listen"`
}

// CellConfig is the top-level static configuration for one cell instance.
type CellConfig struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Log      LogConfig      `mapstructure:"log"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
}

// configRoot wraps CellConfig under a single top-level YAML key so the
// config file reads as one coherent document rooted at "wafercell".
type configRoot struct {
	Wafercell CellConfig `mapstructure:"wafercell"`
}

// Load reads path (if non-empty) via viper, applies WAFERCELL_-prefixed env
// overrides and defaults, validates, and returns the resolved config. The
// env prefix comes from the "wafercell" root key itself (wafercell.log.level
// is read from WAFERCELL_LOG_LEVEL), so no separate env prefix is set.
func Load(path string) (*CellConfig, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Wafercell

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("wafercell.http.listen", ":8080")
	v.SetDefault("wafercell.log.level", "info")

	v.SetDefault("wafercell.dispatch.policy", "immediate")
	v.SetDefault("wafercell.dispatch.bypass_bound", 10)
	v.SetDefault("wafercell.dispatch.poll_interval", "10ms")

	v.SetDefault("wafercell.dispatch.pheromone.alpha", 1.0)
	v.SetDefault("wafercell.dispatch.pheromone.beta", 2.0)
	v.SetDefault("wafercell.dispatch.pheromone.evaporation_rate", 0.1)
	v.SetDefault("wafercell.dispatch.pheromone.evaporation_period", "1s")
	v.SetDefault("wafercell.dispatch.pheromone.tau_min", 0.1)
	v.SetDefault("wafercell.dispatch.pheromone.tau_max", 10.0)
	v.SetDefault("wafercell.dispatch.pheromone.delta0", 1.0)
}

var validPolicies = map[string]bool{
	"immediate": true,
	"poll":      true,
	"broadcast": true,
	"pheromone": true,
	"batch":     true,
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks field vocabulary and that duration strings parse.
func (c *CellConfig) Validate() error {
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", c.Log.Level)
	}
	if !validPolicies[c.Dispatch.Policy] {
		return fmt.Errorf("invalid dispatch policy: %s", c.Dispatch.Policy)
	}
	if _, err := time.ParseDuration(c.Dispatch.PollInterval); err != nil {
		return fmt.Errorf("invalid dispatch.poll_interval: %w", err)
	}
	if _, err := time.ParseDuration(c.Dispatch.Pheromone.EvaporationPeriod); err != nil {
		return fmt.Errorf("invalid dispatch.pheromone.evaporation_period: %w", err)
	}
	return nil
}

// PollIntervalDuration parses PollInterval; callers only reach it after
// Validate has already confirmed it parses.
func (c *DispatchConfig) PollIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.PollInterval)
	return d
}

// EvaporationPeriodDuration parses Pheromone.EvaporationPeriod.
func (p *PheromoneConfig) EvaporationPeriodDuration() time.Duration {
	d, _ := time.ParseDuration(p.EvaporationPeriod)
	return d
}
