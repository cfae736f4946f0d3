package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig holds the numeric knobs of the decode, encode and volume
// stages. Nil fields fall back to the defaults in the Get* accessors, so
// partial JSON files are valid.
type TuningConfig struct {
	// Decode
	SHC0              *float64 `json:"sh_c0,omitempty"`
	DefaultOpacity    *float64 `json:"default_opacity,omitempty"`
	DefaultScale      *float64 `json:"default_scale,omitempty"`
	QuaternionEpsilon *float64 `json:"quaternion_epsilon,omitempty"`
	AutoDetectLogits  *bool    `json:"auto_detect_logits,omitempty"` // treat an all non-negative "opacity" property as linear

	// Encode
	QuaternionScale *float64 `json:"quaternion_scale,omitempty"`

	// Volume
	OpacityThreshold *float64 `json:"opacity_threshold,omitempty"`
	NeighborCount    *int     `json:"neighbor_count,omitempty"`
	StdRatio         *float64 `json:"std_ratio,omitempty"`
	HullEpsilon      *float64 `json:"hull_epsilon,omitempty"`

	// Generator health check
	HealthTimeout *string `json:"health_timeout,omitempty"` // duration string like "3s"
}

const maxConfigBytes = 1 << 20

// LoadTuningConfig reads and validates a JSON tuning file.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigBytes)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &TuningConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the working directory
// or one of its ancestors. It panics when the file cannot be found and is
// meant for tests.
func MustLoadDefaultConfig() *TuningConfig {
	prefix := ""
	for i := 0; i < 5; i++ {
		if cfg, err := LoadTuningConfig(prefix + DefaultConfigPath); err == nil {
			return cfg
		}
		prefix += "../"
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the set fields for values the stages cannot use.
func (c *TuningConfig) Validate() error {
	positive := []struct {
		name string
		v    *float64
	}{
		{"sh_c0", c.SHC0},
		{"default_scale", c.DefaultScale},
		{"quaternion_epsilon", c.QuaternionEpsilon},
		{"quaternion_scale", c.QuaternionScale},
	}
	for _, f := range positive {
		if f.v != nil && (math.IsNaN(*f.v) || *f.v <= 0) {
			return fmt.Errorf("%s must be positive, got %v", f.name, *f.v)
		}
	}
	if c.QuaternionScale != nil && *c.QuaternionScale > 127 {
		return fmt.Errorf("quaternion_scale must not exceed 127, got %v", *c.QuaternionScale)
	}
	if c.DefaultOpacity != nil && (*c.DefaultOpacity < 0 || *c.DefaultOpacity > 1) {
		return fmt.Errorf("default_opacity must be between 0 and 1, got %v", *c.DefaultOpacity)
	}
	if c.OpacityThreshold != nil && (*c.OpacityThreshold < 0 || *c.OpacityThreshold > 1) {
		return fmt.Errorf("opacity_threshold must be between 0 and 1, got %v", *c.OpacityThreshold)
	}
	if c.NeighborCount != nil && *c.NeighborCount < 1 {
		return fmt.Errorf("neighbor_count must be at least 1, got %d", *c.NeighborCount)
	}
	if c.StdRatio != nil && (math.IsNaN(*c.StdRatio) || *c.StdRatio < 0) {
		return fmt.Errorf("std_ratio must be non-negative, got %v", *c.StdRatio)
	}
	if c.HullEpsilon != nil && (math.IsNaN(*c.HullEpsilon) || *c.HullEpsilon < 0) {
		return fmt.Errorf("hull_epsilon must be non-negative, got %v", *c.HullEpsilon)
	}
	if c.HealthTimeout != nil && *c.HealthTimeout != "" {
		if _, err := time.ParseDuration(*c.HealthTimeout); err != nil {
			return fmt.Errorf("invalid health_timeout '%s': %w", *c.HealthTimeout, err)
		}
	}
	return nil
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// GetSHC0 returns the zeroth-order spherical harmonic constant.
func (c *TuningConfig) GetSHC0() float64 { return getFloat(c.SHC0, 0.28209479177387814) }

// GetDefaultOpacity returns the opacity used when a record has no opacity column.
func (c *TuningConfig) GetDefaultOpacity() float64 { return getFloat(c.DefaultOpacity, 0.8) }

// GetDefaultScale returns the per-axis scale used when a record has no scale columns.
func (c *TuningConfig) GetDefaultScale() float64 { return getFloat(c.DefaultScale, 0.01) }

// GetQuaternionEpsilon returns the guard added to the quaternion norm.
func (c *TuningConfig) GetQuaternionEpsilon() float64 { return getFloat(c.QuaternionEpsilon, 1e-8) }

// GetAutoDetectLogits reports whether named opacity properties are checked
// for already-activated values.
func (c *TuningConfig) GetAutoDetectLogits() bool {
	if c.AutoDetectLogits == nil {
		return false
	}
	return *c.AutoDetectLogits
}

// GetQuaternionScale returns the factor applied before packing rotations into int8.
func (c *TuningConfig) GetQuaternionScale() float64 { return getFloat(c.QuaternionScale, 127) }

// GetOpacityThreshold returns the density filter threshold used when a caller gives none.
func (c *TuningConfig) GetOpacityThreshold() float64 { return getFloat(c.OpacityThreshold, 0.2) }

// GetNeighborCount returns K for outlier removal.
func (c *TuningConfig) GetNeighborCount() int {
	if c.NeighborCount == nil {
		return 20
	}
	return *c.NeighborCount
}

// GetStdRatio returns the outlier standard deviation ratio.
func (c *TuningConfig) GetStdRatio() float64 { return getFloat(c.StdRatio, 2.0) }

// GetHullEpsilon returns the relative hull plane tolerance.
func (c *TuningConfig) GetHullEpsilon() float64 { return getFloat(c.HullEpsilon, 1e-9) }

// GetHealthTimeout returns the generator health check timeout.
func (c *TuningConfig) GetHealthTimeout() time.Duration {
	if c.HealthTimeout == nil || *c.HealthTimeout == "" {
		return 3 * time.Second
	}
	d, err := time.ParseDuration(*c.HealthTimeout)
	if err != nil {
		return 3 * time.Second
	}
	return d
}
