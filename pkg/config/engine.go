package config

import (
	"time"

	"github.com/parleyhq/parley/pkg/models"
)

// EngineConfig contains the dialogue engine's timing and threshold knobs.
// Every value has a built-in default; YAML overrides individual fields.
type EngineConfig struct {
	// EvaluatorProvider/EvaluatorModel select the model used by the
	// interruption evaluator. Empty provider disables interruption
	// evaluation entirely (lively-mode sessions then never interrupt).
	EvaluatorProvider string
	EvaluatorModel    string

	// EvaluationInterval is how often the interruption engine samples the
	// active speaker's stream while the interrupt window is open.
	EvaluationInterval time.Duration

	// EvaluationTailChars caps how much of the speaker's emitted content
	// is handed to the evaluator per tick.
	EvaluationTailChars int

	// ChunkSize/ChunkDelay drive simulated streaming when a provider only
	// supports single-shot completion: the response is replayed in
	// ChunkSize-character slices, one every ChunkDelay.
	ChunkSize  int
	ChunkDelay time.Duration

	// MaxEmptyRetries is how many times a turn is re-attempted after an
	// empty or transient-failure response before being skipped.
	MaxEmptyRetries int

	// RetryBackoffBase scales linearly with the attempt number:
	// attempt n waits n * RetryBackoffBase.
	RetryBackoffBase time.Duration

	// PacingFloors maps session pacing to the minimum time a speaker must
	// hold the floor before any boundary counts as interruptible.
	PacingFloors map[models.Pacing]time.Duration

	// AggressionThresholds maps aggression level (1-5) to the minimum
	// combined evaluator score required to accept an interrupt candidate.
	AggressionThresholds map[int]float64

	// InterjectionMaxSentences bounds generated interjection length.
	InterjectionMaxSentences int

	// MaxInterruptsPerMinute is the per-session default budget when the
	// session's lively settings do not specify one.
	MaxInterruptsPerMinute int

	// CooldownDuration is how long a participant stays in cooldown after
	// finishing a turn before returning to ready.
	CooldownDuration time.Duration

	// HumanTurnTimeout is the default wait for a human turn submission
	// when the session's human config does not set a time limit.
	HumanTurnTimeout time.Duration

	// TurnTimeout bounds a single model turn end to end.
	TurnTimeout time.Duration

	// HeartbeatInterval is the comment-frame cadence on idle event streams.
	HeartbeatInterval time.Duration

	// EventBufferSize is the per-session ring buffer capacity;
	// SubscriberBufferSize is each subscriber's private queue capacity.
	EventBufferSize      int
	SubscriberBufferSize int

	// GracefulShutdownTimeout is the max time to wait for live sessions
	// to pause and flush during shutdown.
	GracefulShutdownTimeout time.Duration
}

// engineYAML is the YAML-facing shape of EngineConfig. Durations are
// integer milliseconds so files read the way operators think about these
// knobs. Zero means "use the built-in default".
type engineYAML struct {
	EvaluatorProvider        string                    `yaml:"evaluator_provider"`
	EvaluatorModel           string                    `yaml:"evaluator_model"`
	EvaluationIntervalMS     int                       `yaml:"evaluation_interval_ms"`
	EvaluationTailChars      int                       `yaml:"evaluation_tail_chars"`
	ChunkSize                int                       `yaml:"chunk_size"`
	ChunkDelayMS             int                       `yaml:"chunk_delay_ms"`
	MaxEmptyRetries          int                       `yaml:"max_empty_retries"`
	RetryBackoffBaseMS       int                       `yaml:"retry_backoff_base_ms"`
	PacingFloorsMS           map[models.Pacing]int     `yaml:"pacing_floors_ms"`
	AggressionThresholds     map[int]float64           `yaml:"aggression_thresholds"`
	InterjectionMaxSentences int                       `yaml:"interjection_max_sentences"`
	MaxInterruptsPerMinute   int                       `yaml:"max_interrupts_per_minute"`
	CooldownMS               int                       `yaml:"cooldown_ms"`
	HumanTurnTimeoutMS       int                       `yaml:"human_turn_timeout_ms"`
	TurnTimeoutMS            int                       `yaml:"turn_timeout_ms"`
	HeartbeatIntervalMS      int                       `yaml:"heartbeat_interval_ms"`
	EventBufferSize          int                       `yaml:"event_buffer_size"`
	SubscriberBufferSize     int                       `yaml:"subscriber_buffer_size"`
	GracefulShutdownMS       int                       `yaml:"graceful_shutdown_ms"`
}

// DefaultEngineConfig returns the built-in engine defaults.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		EvaluationInterval:  1 * time.Second,
		EvaluationTailChars: 500,
		ChunkSize:           50,
		ChunkDelay:          50 * time.Millisecond,
		MaxEmptyRetries:     3,
		RetryBackoffBase:    2 * time.Second,
		PacingFloors: map[models.Pacing]time.Duration{
			models.PacingSlow:   2500 * time.Millisecond,
			models.PacingMedium: 1500 * time.Millisecond,
			models.PacingFast:   800 * time.Millisecond,
		},
		AggressionThresholds: map[int]float64{
			1: 0.90,
			2: 0.80,
			3: 0.70,
			4: 0.60,
			5: 0.50,
		},
		InterjectionMaxSentences: 2,
		MaxInterruptsPerMinute:   3,
		CooldownDuration:         500 * time.Millisecond,
		HumanTurnTimeout:         60 * time.Second,
		TurnTimeout:              2 * time.Minute,
		HeartbeatInterval:        30 * time.Second,
		EventBufferSize:          1000,
		SubscriberBufferSize:     256,
		GracefulShutdownTimeout:  30 * time.Second,
	}
}

// FloorFor returns the minimum floor-hold duration for the given pacing,
// falling back to the medium floor for unknown values.
func (e *EngineConfig) FloorFor(p models.Pacing) time.Duration {
	if d, ok := e.PacingFloors[p]; ok {
		return d
	}
	return e.PacingFloors[models.PacingMedium]
}

// ThresholdFor returns the combined-score threshold for the given
// aggression level. Levels are clamped into [1,5].
func (e *EngineConfig) ThresholdFor(level int) float64 {
	if level < 1 {
		level = 1
	}
	if level > 5 {
		level = 5
	}
	if t, ok := e.AggressionThresholds[level]; ok {
		return t
	}
	return 0.90
}

// resolveEngineConfig overlays non-zero YAML values onto the built-in
// defaults.
func resolveEngineConfig(y *engineYAML) *EngineConfig {
	cfg := DefaultEngineConfig()
	if y == nil {
		return cfg
	}

	if y.EvaluatorProvider != "" {
		cfg.EvaluatorProvider = y.EvaluatorProvider
	}
	if y.EvaluatorModel != "" {
		cfg.EvaluatorModel = y.EvaluatorModel
	}
	if y.EvaluationIntervalMS > 0 {
		cfg.EvaluationInterval = time.Duration(y.EvaluationIntervalMS) * time.Millisecond
	}
	if y.EvaluationTailChars > 0 {
		cfg.EvaluationTailChars = y.EvaluationTailChars
	}
	if y.ChunkSize > 0 {
		cfg.ChunkSize = y.ChunkSize
	}
	if y.ChunkDelayMS > 0 {
		cfg.ChunkDelay = time.Duration(y.ChunkDelayMS) * time.Millisecond
	}
	if y.MaxEmptyRetries > 0 {
		cfg.MaxEmptyRetries = y.MaxEmptyRetries
	}
	if y.RetryBackoffBaseMS > 0 {
		cfg.RetryBackoffBase = time.Duration(y.RetryBackoffBaseMS) * time.Millisecond
	}
	for pacing, ms := range y.PacingFloorsMS {
		if ms > 0 {
			cfg.PacingFloors[pacing] = time.Duration(ms) * time.Millisecond
		}
	}
	for level, threshold := range y.AggressionThresholds {
		cfg.AggressionThresholds[level] = threshold
	}
	if y.InterjectionMaxSentences > 0 {
		cfg.InterjectionMaxSentences = y.InterjectionMaxSentences
	}
	if y.MaxInterruptsPerMinute > 0 {
		cfg.MaxInterruptsPerMinute = y.MaxInterruptsPerMinute
	}
	if y.CooldownMS > 0 {
		cfg.CooldownDuration = time.Duration(y.CooldownMS) * time.Millisecond
	}
	if y.HumanTurnTimeoutMS > 0 {
		cfg.HumanTurnTimeout = time.Duration(y.HumanTurnTimeoutMS) * time.Millisecond
	}
	if y.TurnTimeoutMS > 0 {
		cfg.TurnTimeout = time.Duration(y.TurnTimeoutMS) * time.Millisecond
	}
	if y.HeartbeatIntervalMS > 0 {
		cfg.HeartbeatInterval = time.Duration(y.HeartbeatIntervalMS) * time.Millisecond
	}
	if y.EventBufferSize > 0 {
		cfg.EventBufferSize = y.EventBufferSize
	}
	if y.SubscriberBufferSize > 0 {
		cfg.SubscriberBufferSize = y.SubscriberBufferSize
	}
	if y.GracefulShutdownMS > 0 {
		cfg.GracefulShutdownTimeout = time.Duration(y.GracefulShutdownMS) * time.Millisecond
	}

	return cfg
}
