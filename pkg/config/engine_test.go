package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/models"
)

func TestDefaultEngineConfig(t *testing.T) {
	cfg := DefaultEngineConfig()

	assert.Equal(t, 2500*time.Millisecond, cfg.PacingFloors[models.PacingSlow])
	assert.Equal(t, 1500*time.Millisecond, cfg.PacingFloors[models.PacingMedium])
	assert.Equal(t, 800*time.Millisecond, cfg.PacingFloors[models.PacingFast])

	assert.Equal(t, 0.90, cfg.AggressionThresholds[1])
	assert.Equal(t, 0.80, cfg.AggressionThresholds[2])
	assert.Equal(t, 0.70, cfg.AggressionThresholds[3])
	assert.Equal(t, 0.60, cfg.AggressionThresholds[4])
	assert.Equal(t, 0.50, cfg.AggressionThresholds[5])

	assert.Equal(t, 500, cfg.EvaluationTailChars)
	assert.Equal(t, 1000, cfg.EventBufferSize)
	assert.Equal(t, 256, cfg.SubscriberBufferSize)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
}

func TestThresholdForClampsLevels(t *testing.T) {
	cfg := DefaultEngineConfig()

	assert.Equal(t, 0.90, cfg.ThresholdFor(0))
	assert.Equal(t, 0.90, cfg.ThresholdFor(-3))
	assert.Equal(t, 0.50, cfg.ThresholdFor(5))
	assert.Equal(t, 0.50, cfg.ThresholdFor(99))
	assert.Equal(t, 0.70, cfg.ThresholdFor(3))
}

func TestFloorForUnknownPacing(t *testing.T) {
	cfg := DefaultEngineConfig()

	assert.Equal(t, 1500*time.Millisecond, cfg.FloorFor(models.Pacing("frantic")))
}

func TestResolveEngineConfigOverrides(t *testing.T) {
	y := &engineYAML{
		EvaluationIntervalMS: 100,
		ChunkDelayMS:         10,
		PacingFloorsMS:       map[models.Pacing]int{models.PacingFast: 50},
		AggressionThresholds: map[int]float64{5: 0.40},
	}

	cfg := resolveEngineConfig(y)

	assert.Equal(t, 100*time.Millisecond, cfg.EvaluationInterval)
	assert.Equal(t, 10*time.Millisecond, cfg.ChunkDelay)
	assert.Equal(t, 50*time.Millisecond, cfg.PacingFloors[models.PacingFast])
	// Untouched entries keep their defaults
	assert.Equal(t, 2500*time.Millisecond, cfg.PacingFloors[models.PacingSlow])
	assert.Equal(t, 0.40, cfg.AggressionThresholds[5])
	assert.Equal(t, 0.90, cfg.AggressionThresholds[1])
	assert.Equal(t, 50, cfg.ChunkSize)
}

func TestValidateEngineRejectsBrokenThresholds(t *testing.T) {
	cfg := Default()
	// Level 4 easier than level 5 breaks monotonicity
	cfg.Engine.AggressionThresholds[4] = 0.20

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aggression_thresholds")
}

func TestValidateEngineRejectsMissingFloor(t *testing.T) {
	cfg := Default()
	delete(cfg.Engine.PacingFloors, models.PacingMedium)

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pacing_floors_ms")
}

func TestValidateDefaultsRejectsOutOfRangeTokens(t *testing.T) {
	cfg := Default()
	cfg.Defaults.MaxTokens = 128

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_tokens")
}

func TestClampMaxTokens(t *testing.T) {
	d := DefaultDefaults()

	assert.Equal(t, 2048, d.ClampMaxTokens(0))
	assert.Equal(t, MinResponseTokens, d.ClampMaxTokens(16))
	assert.Equal(t, MaxResponseTokens, d.ClampMaxTokens(100000))
	assert.Equal(t, 3000, d.ClampMaxTokens(3000))
}
