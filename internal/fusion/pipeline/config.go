package pipeline

import (
	"fmt"

	"github.com/banshee-data/posefusion/internal/config"
	"github.com/banshee-data/posefusion/internal/fusion/l3correlation"
	"github.com/banshee-data/posefusion/internal/fusion/l4calibration"
	"github.com/banshee-data/posefusion/internal/fusion/l5skeleton"
)

// Config holds the per-stage configuration of a Core.
type Config struct {
	Correlation  l3correlation.Config
	Calibration  l4calibration.Config
	QueuePolicy  l5skeleton.QueuePolicy
	DefaultModel l5skeleton.ModelKind
	// MaxBuffer caps pending measurements between cycles. Zero means
	// unbounded.
	MaxBuffer int
}

// DefaultConfig returns default Core configuration.
func DefaultConfig() Config {
	return Config{
		Correlation:  l3correlation.DefaultConfig(),
		Calibration:  l4calibration.DefaultConfig(),
		QueuePolicy:  l5skeleton.QueueNewest,
		DefaultModel: l5skeleton.ModelCartesian,
	}
}

// ConfigFromFusion builds a Config from a loaded FusionConfig.
func ConfigFromFusion(cfg *config.FusionConfig) (Config, error) {
	policy, err := l5skeleton.ParseQueuePolicy(cfg.GetQueuePolicy())
	if err != nil {
		return Config{}, fmt.Errorf("queue_policy: %w", err)
	}
	model, err := l5skeleton.ParseModel(cfg.GetDefaultModel())
	if err != nil {
		return Config{}, fmt.Errorf("default_model: %w", err)
	}
	return Config{
		Correlation:  l3correlation.ConfigFromFusion(cfg),
		Calibration:  l4calibration.ConfigFromFusion(cfg),
		QueuePolicy:  policy,
		DefaultModel: model,
		MaxBuffer:    cfg.GetMaxBuffer(),
	}, nil
}
