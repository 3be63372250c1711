// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads pmslice run configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/pmslice/internal/targets"
	"github.com/AleutianAI/pmslice/pkg/pmslice"
)

// Mode selects how a chain updates its point.
type Mode string

const (
	// ModePseudoMarginal runs the pseudo-marginal slice kernel with a fresh
	// estimate at every evaluation site.
	ModePseudoMarginal Mode = "pseudo-marginal"

	// ModeClamped runs exact slice sampling on the estimator with its
	// randomness clamped, alternating with auxiliary updates.
	ModeClamped Mode = "clamped"

	// ModeExact runs conventional slice sampling on the exact log density.
	ModeExact Mode = "exact"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

var validate = validator.New()

// Config is the full run configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type Config struct {
	// Target names a registered target (see targets.Names).
	Target string `json:"target" yaml:"target" validate:"required"`

	// Mode is pseudo-marginal, clamped or exact.
	Mode Mode `json:"mode" yaml:"mode" validate:"oneof=pseudo-marginal clamped exact"`

	// Iterations is the number of retained sweeps per chain.
	Iterations int `json:"iterations" yaml:"iterations" validate:"gte=1"`

	// Burnin sweeps are run and discarded before Iterations.
	Burnin int `json:"burnin" yaml:"burnin" validate:"gte=0"`

	// Chains run concurrently, chain i on stream set i.
	Chains int `json:"chains" yaml:"chains" validate:"gte=1,lte=1024"`

	// Seed makes runs reproducible.
	Seed uint64 `json:"seed" yaml:"seed"`

	// Dimensions of the target.
	Dimensions int `json:"dimensions" yaml:"dimensions" validate:"gte=1"`

	// NoiseVariance is the log-scale estimator noise for the gaussian target.
	NoiseVariance float64 `json:"noise_variance" yaml:"noise_variance" validate:"gte=0"`

	// AuxUpdateEvery is the number of point sweeps between auxiliary
	// updates in clamped mode.
	AuxUpdateEvery int `json:"aux_update_every" yaml:"aux_update_every" validate:"gte=1"`

	// Step configures every axis.
	Step pmslice.StepConfig `json:"step" yaml:"step"`

	// Observability contains logging, metrics and tracing settings.
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
}

// ObservabilityConfig contains observability settings.
type ObservabilityConfig struct {
	LogLevel       string `json:"log_level" yaml:"log_level" validate:"oneof=debug info warn warning error"`
	JSON           bool   `json:"json" yaml:"json"`
	LogDir         string `json:"log_dir" yaml:"log_dir"`
	MetricsEnabled bool   `json:"metrics_enabled" yaml:"metrics_enabled"`
	MetricsAddr    string `json:"metrics_addr" yaml:"metrics_addr" validate:"omitempty,hostname_port"`
	TracingEnabled bool   `json:"tracing_enabled" yaml:"tracing_enabled"`
}

// Default returns the default configuration.
//
// Outputs:
//   - Config: A gaussian pseudo-marginal run with four chains.
func Default() Config {
	return Config{
		Target:         "gaussian",
		Mode:           ModePseudoMarginal,
		Iterations:     5000,
		Burnin:         500,
		Chains:         4,
		Seed:           1,
		Dimensions:     1,
		NoiseVariance:  0.1,
		AuxUpdateEvery: 1,
		Step:           pmslice.DefaultStepConfig(),
		Observability: ObservabilityConfig{
			LogLevel: "info",
		},
	}
}

// Load loads configuration with priority: env > file > defaults.
//
// Inputs:
//   - path: Path to a YAML or JSON file. Empty or missing means defaults.
//
// Outputs:
//   - Config: Merged configuration.
//   - error: Non-nil if the file is unreadable or invalid, or the merged
//     configuration fails validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	loadEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

// loadEnv applies PMSLICE_* overrides. Unparseable values are ignored.
func loadEnv(cfg *Config) {
	envString("PMSLICE_TARGET", &cfg.Target)
	if v := os.Getenv("PMSLICE_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	envInt("PMSLICE_ITERATIONS", &cfg.Iterations)
	envInt("PMSLICE_BURNIN", &cfg.Burnin)
	envInt("PMSLICE_CHAINS", &cfg.Chains)
	if v := os.Getenv("PMSLICE_SEED"); v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Seed = u
		}
	}
	envInt("PMSLICE_DIMENSIONS", &cfg.Dimensions)
	envFloat("PMSLICE_NOISE_VARIANCE", &cfg.NoiseVariance)
	envInt("PMSLICE_AUX_UPDATE_EVERY", &cfg.AuxUpdateEvery)

	// Step
	envFloat("PMSLICE_WIDTH", &cfg.Step.Width)
	envInt("PMSLICE_MAX_DOUBLINGS", &cfg.Step.MaxDoublings)
	envInt("PMSLICE_MAX_SHRINKS", &cfg.Step.MaxShrinks)

	// Observability
	envString("PMSLICE_LOG_LEVEL", &cfg.Observability.LogLevel)
	envBool("PMSLICE_LOG_JSON", &cfg.Observability.JSON)
	envString("PMSLICE_LOG_DIR", &cfg.Observability.LogDir)
	envBool("PMSLICE_METRICS_ENABLED", &cfg.Observability.MetricsEnabled)
	envString("PMSLICE_METRICS_ADDR", &cfg.Observability.MetricsAddr)
	envBool("PMSLICE_TRACING_ENABLED", &cfg.Observability.TracingEnabled)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

// Validate checks struct tags and cross-field constraints.
//
// Outputs:
//   - error: Wraps ErrInvalidConfig if the configuration is invalid.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Step.Validate(); err != nil {
		return fmt.Errorf("%w: step: %v", ErrInvalidConfig, err)
	}
	if !slices.Contains(targets.Names(), c.Target) {
		return fmt.Errorf("%w: unknown target %q (known: %v)", ErrInvalidConfig, c.Target, targets.Names())
	}
	if c.Target == "funnel" && c.Dimensions < 2 {
		return fmt.Errorf("%w: funnel needs at least 2 dimensions, got %d", ErrInvalidConfig, c.Dimensions)
	}
	if c.Observability.MetricsAddr != "" && !c.Observability.MetricsEnabled {
		return fmt.Errorf("%w: metrics_addr set but metrics_enabled is false", ErrInvalidConfig)
	}
	return nil
}

// TargetParams returns the target construction parameters.
func (c Config) TargetParams() targets.Params {
	return targets.Params{Dimensions: c.Dimensions, NoiseVariance: c.NoiseVariance}
}

// YAML renders the configuration as YAML.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// WriteDefault writes the default configuration to path, creating parent
// directories. An existing file is left untouched.
//
// Outputs:
//   - bool: True if the file was created.
//   - error: Non-nil if the directory or file could not be written.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create the config directory %w", err)
	}
	data, err := Default().YAML()
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return false, err
	}
	return true, nil
}
