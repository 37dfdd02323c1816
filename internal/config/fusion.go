package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical fusion defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/fusion.defaults.json"

// Queue policies accepted by queue_policy.
const (
	QueuePolicyNewest  = "newest"
	QueuePolicyArrival = "arrival"
)

// Node models accepted by default_model.
const (
	ModelCartesian = "cartesian"
	ModelTwist     = "twist"
)

// FusionConfig is the root configuration for the fusion pipeline. Every
// field is optional; the Get* methods supply defaults for omitted keys.
type FusionConfig struct {
	// Correlation params
	CorrelationMargin     *float64 `json:"correlation_margin,omitempty"`
	MinCorrelationSamples *int     `json:"min_correlation_samples,omitempty"`
	CorrelationNoiseFloor *float64 `json:"correlation_noise_floor,omitempty"`
	// Batches after which a silent sensor no longer holds correlation open.
	CorrelationActiveBatches *int `json:"correlation_active_batches,omitempty"`

	// Calibration params
	MinCalibrationPairs  *int     `json:"min_calibration_pairs,omitempty"`
	CalibrationThreshold *float64 `json:"calibration_threshold,omitempty"` // metres
	CalibrationLeverArm  *float64 `json:"calibration_lever_arm,omitempty"` // metres
	PairingWindow        *float64 `json:"pairing_window,omitempty"`        // seconds
	ReferenceSystem      *string  `json:"reference_system,omitempty"`

	// Skeleton params
	QueuePolicy  *string `json:"queue_policy,omitempty"`
	DefaultModel *string `json:"default_model,omitempty"`

	// Driver params
	FuseInterval *string `json:"fuse_interval,omitempty"` // duration string like "20ms"
	MaxBuffer    *int    `json:"max_buffer,omitempty"`
}

// EmptyFusionConfig returns a FusionConfig with all fields set to nil.
// Use LoadFusionConfig to load actual values from the defaults file.
func EmptyFusionConfig() *FusionConfig {
	return &FusionConfig{}
}

// LoadFusionConfig loads a FusionConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
// Fields omitted from the JSON file fall back to the Get* defaults, so
// partial configs are safe.
func LoadFusionConfig(path string) (*FusionConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyFusionConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical fusion defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *FusionConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/fusion/pipeline/
		"../../../../" + DefaultConfigPath,    // from internal/fusion/storage/sqlite/
		"../../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadFusionConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *FusionConfig) Validate() error {
	if c.CorrelationMargin != nil && *c.CorrelationMargin <= 0 {
		return fmt.Errorf("correlation_margin must be positive, got %f", *c.CorrelationMargin)
	}
	if c.MinCorrelationSamples != nil && *c.MinCorrelationSamples < 1 {
		return fmt.Errorf("min_correlation_samples must be at least 1, got %d", *c.MinCorrelationSamples)
	}
	if c.CorrelationNoiseFloor != nil && *c.CorrelationNoiseFloor <= 0 {
		return fmt.Errorf("correlation_noise_floor must be positive, got %g", *c.CorrelationNoiseFloor)
	}
	if c.CorrelationActiveBatches != nil && *c.CorrelationActiveBatches < 1 {
		return fmt.Errorf("correlation_active_batches must be at least 1, got %d", *c.CorrelationActiveBatches)
	}
	if c.MinCalibrationPairs != nil && *c.MinCalibrationPairs < 3 {
		return fmt.Errorf("min_calibration_pairs must be at least 3, got %d", *c.MinCalibrationPairs)
	}
	if c.CalibrationThreshold != nil && *c.CalibrationThreshold <= 0 {
		return fmt.Errorf("calibration_threshold must be positive, got %f", *c.CalibrationThreshold)
	}
	if c.CalibrationLeverArm != nil && *c.CalibrationLeverArm < 0 {
		return fmt.Errorf("calibration_lever_arm must be non-negative, got %f", *c.CalibrationLeverArm)
	}
	if c.PairingWindow != nil && *c.PairingWindow < 0 {
		return fmt.Errorf("pairing_window must be non-negative, got %f", *c.PairingWindow)
	}
	if c.QueuePolicy != nil {
		switch *c.QueuePolicy {
		case QueuePolicyNewest, QueuePolicyArrival:
		default:
			return fmt.Errorf("queue_policy must be %q or %q, got %q", QueuePolicyNewest, QueuePolicyArrival, *c.QueuePolicy)
		}
	}
	if c.DefaultModel != nil {
		switch *c.DefaultModel {
		case ModelCartesian, ModelTwist:
		default:
			return fmt.Errorf("default_model must be %q or %q, got %q", ModelCartesian, ModelTwist, *c.DefaultModel)
		}
	}
	if c.FuseInterval != nil && *c.FuseInterval != "" {
		d, err := time.ParseDuration(*c.FuseInterval)
		if err != nil {
			return fmt.Errorf("invalid fuse_interval '%s': %w", *c.FuseInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("fuse_interval must be positive, got %s", d)
		}
	}
	if c.MaxBuffer != nil && *c.MaxBuffer < 0 {
		return fmt.Errorf("max_buffer must be non-negative, got %d", *c.MaxBuffer)
	}
	return nil
}

// GetCorrelationMargin returns the correlation_margin value or the default.
func (c *FusionConfig) GetCorrelationMargin() float64 {
	if c.CorrelationMargin == nil {
		return 4.6 // ≈ ln(100)
	}
	return *c.CorrelationMargin
}

// GetMinCorrelationSamples returns the min_correlation_samples value or the default.
func (c *FusionConfig) GetMinCorrelationSamples() int {
	if c.MinCorrelationSamples == nil {
		return 5
	}
	return *c.MinCorrelationSamples
}

// GetCorrelationNoiseFloor returns the correlation_noise_floor value or the default.
func (c *FusionConfig) GetCorrelationNoiseFloor() float64 {
	if c.CorrelationNoiseFloor == nil {
		return 1e-6
	}
	return *c.CorrelationNoiseFloor
}

// GetCorrelationActiveBatches returns the correlation_active_batches value or the default.
func (c *FusionConfig) GetCorrelationActiveBatches() int {
	if c.CorrelationActiveBatches == nil {
		return 10
	}
	return *c.CorrelationActiveBatches
}

// GetMinCalibrationPairs returns the min_calibration_pairs value or the default.
func (c *FusionConfig) GetMinCalibrationPairs() int {
	if c.MinCalibrationPairs == nil {
		return 20
	}
	return *c.MinCalibrationPairs
}

// GetCalibrationThreshold returns the calibration_threshold value or the default.
func (c *FusionConfig) GetCalibrationThreshold() float64 {
	if c.CalibrationThreshold == nil {
		return 0.005
	}
	return *c.CalibrationThreshold
}

// GetCalibrationLeverArm returns the calibration_lever_arm value or the default.
func (c *FusionConfig) GetCalibrationLeverArm() float64 {
	if c.CalibrationLeverArm == nil {
		return 0.5
	}
	return *c.CalibrationLeverArm
}

// GetPairingWindow returns the pairing_window value or the default.
func (c *FusionConfig) GetPairingWindow() float64 {
	if c.PairingWindow == nil {
		return 0.05
	}
	return *c.PairingWindow
}

// GetReferenceSystem returns the reference_system value. Empty means the
// first system to deliver resolved data becomes the reference.
func (c *FusionConfig) GetReferenceSystem() string {
	if c.ReferenceSystem == nil {
		return ""
	}
	return *c.ReferenceSystem
}

// GetQueuePolicy returns the queue_policy value or the default.
func (c *FusionConfig) GetQueuePolicy() string {
	if c.QueuePolicy == nil || *c.QueuePolicy == "" {
		return QueuePolicyNewest
	}
	return *c.QueuePolicy
}

// GetDefaultModel returns the default_model value or the default.
func (c *FusionConfig) GetDefaultModel() string {
	if c.DefaultModel == nil || *c.DefaultModel == "" {
		return ModelCartesian
	}
	return *c.DefaultModel
}

// GetFuseInterval parses and returns the FuseInterval as a time.Duration.
func (c *FusionConfig) GetFuseInterval() time.Duration {
	if c.FuseInterval == nil || *c.FuseInterval == "" {
		return 20 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.FuseInterval)
	if err != nil {
		return 20 * time.Millisecond // default on parse error
	}
	return d
}

// GetMaxBuffer returns the max_buffer value or the default. Zero means
// the buffer is unbounded.
func (c *FusionConfig) GetMaxBuffer() int {
	if c.MaxBuffer == nil {
		return 0
	}
	return *c.MaxBuffer
}
