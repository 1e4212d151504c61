package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/parleyhq/parley/pkg/models"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateProviders(); err != nil {
		return fmt.Errorf("provider validation failed: %w", err)
	}

	if err := v.validateEngine(); err != nil {
		return fmt.Errorf("engine validation failed: %w", err)
	}

	if err := v.validateDefaults(); err != nil {
		return fmt.Errorf("defaults validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateProviders() error {
	for name, provider := range v.cfg.ProviderRegistry.GetAll() {
		if !provider.Type.IsValid() {
			return NewValidationError("provider", name, "type", fmt.Errorf("invalid provider type: %s", provider.Type))
		}

		if provider.Type == ProviderTypeOpenAICompatible && provider.BaseURL == "" {
			return NewValidationError("provider", name, "base_url", fmt.Errorf("base_url required for %s providers", ProviderTypeOpenAICompatible))
		}

		// A missing key is not fatal here: only providers a session actually
		// references need credentials, and the adapter layer re-checks at
		// construction time.
		if provider.APIKeyEnv != "" {
			if value := os.Getenv(provider.APIKeyEnv); value == "" {
				slog.Warn("Provider API key environment variable is not set",
					"provider", name,
					"api_key_env", provider.APIKeyEnv)
			}
		}
	}

	return nil
}

func (v *ConfigValidator) validateEngine() error {
	e := v.cfg.Engine

	if e.EvaluationInterval <= 0 {
		return NewValidationError("engine", "engine", "evaluation_interval_ms", fmt.Errorf("must be positive"))
	}
	if e.EvaluationTailChars < 1 {
		return NewValidationError("engine", "engine", "evaluation_tail_chars", fmt.Errorf("must be at least 1"))
	}
	if e.ChunkSize < 1 {
		return NewValidationError("engine", "engine", "chunk_size", fmt.Errorf("must be at least 1"))
	}
	if e.ChunkDelay < 0 {
		return NewValidationError("engine", "engine", "chunk_delay_ms", fmt.Errorf("must not be negative"))
	}
	if e.MaxEmptyRetries < 1 {
		return NewValidationError("engine", "engine", "max_empty_retries", fmt.Errorf("must be at least 1"))
	}

	for _, pacing := range []models.Pacing{models.PacingSlow, models.PacingMedium, models.PacingFast} {
		if _, ok := e.PacingFloors[pacing]; !ok {
			return NewValidationError("engine", "engine", "pacing_floors_ms", fmt.Errorf("missing floor for pacing '%s'", pacing))
		}
	}
	for pacing, floor := range e.PacingFloors {
		if floor <= 0 {
			return NewValidationError("engine", "engine", "pacing_floors_ms", fmt.Errorf("floor for pacing '%s' must be positive", pacing))
		}
	}

	for level := 1; level <= 5; level++ {
		threshold, ok := e.AggressionThresholds[level]
		if !ok {
			return NewValidationError("engine", "engine", "aggression_thresholds", fmt.Errorf("missing threshold for level %d", level))
		}
		if threshold <= 0 || threshold > 1 {
			return NewValidationError("engine", "engine", "aggression_thresholds", fmt.Errorf("threshold for level %d must be in (0, 1]", level))
		}
		// Higher aggression must never be harder to satisfy.
		if prev, ok := e.AggressionThresholds[level-1]; ok && threshold > prev {
			return NewValidationError("engine", "engine", "aggression_thresholds", fmt.Errorf("threshold for level %d exceeds threshold for level %d", level, level-1))
		}
	}

	if e.InterjectionMaxSentences < 1 {
		return NewValidationError("engine", "engine", "interjection_max_sentences", fmt.Errorf("must be at least 1"))
	}
	if e.MaxInterruptsPerMinute < 0 {
		return NewValidationError("engine", "engine", "max_interrupts_per_minute", fmt.Errorf("must not be negative"))
	}
	if e.EventBufferSize < 1 {
		return NewValidationError("engine", "engine", "event_buffer_size", fmt.Errorf("must be at least 1"))
	}
	if e.SubscriberBufferSize < 1 {
		return NewValidationError("engine", "engine", "subscriber_buffer_size", fmt.Errorf("must be at least 1"))
	}

	// The evaluator provider, when named, must exist.
	if e.EvaluatorProvider != "" && !v.cfg.ProviderRegistry.Has(e.EvaluatorProvider) {
		return NewValidationError("engine", "engine", "evaluator_provider", fmt.Errorf("provider '%s' not found", e.EvaluatorProvider))
	}

	return nil
}

func (v *ConfigValidator) validateDefaults() error {
	d := v.cfg.Defaults

	if d.Temperature < 0 || d.Temperature > 2 {
		return NewValidationError("defaults", "defaults", "temperature", fmt.Errorf("must be in [0, 2]"))
	}
	if d.MaxTokens < MinResponseTokens || d.MaxTokens > MaxResponseTokens {
		return NewValidationError("defaults", "defaults", "max_tokens", fmt.Errorf("must be in [%d, %d]", MinResponseTokens, MaxResponseTokens))
	}
	if d.Rounds < 1 {
		return NewValidationError("defaults", "defaults", "rounds", fmt.Errorf("must be at least 1"))
	}
	if d.Provider != "" && !v.cfg.ProviderRegistry.Has(d.Provider) {
		return NewValidationError("defaults", "defaults", "provider", fmt.Errorf("provider '%s' not found", d.Provider))
	}

	return nil
}
