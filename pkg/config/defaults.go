package config

// Defaults are per-session values applied when a create-session request
// omits them. All fields are plain values so mergo can overlay a user's
// YAML on top of the built-ins (non-zero wins).
type Defaults struct {
	// Provider is the model provider used for participants whose model id
	// does not name one explicitly ("provider/model").
	Provider string `yaml:"provider"`

	// Model is the fallback model id for participants without one.
	Model string `yaml:"model"`

	// Temperature for turn generation.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens per response. Clamped into [MinResponseTokens, MaxResponseTokens].
	MaxTokens int `yaml:"max_tokens"`

	// Brevity is the default style directive ("concise", "standard", "expansive").
	Brevity string `yaml:"brevity"`

	// CitationPolicy is the default sourcing directive.
	CitationPolicy string `yaml:"citation_policy"`

	// Rounds is the default number of exchange rounds for informal sessions.
	Rounds int `yaml:"rounds"`
}

const (
	// MinResponseTokens and MaxResponseTokens bound the per-response
	// token budget a session may configure.
	MinResponseTokens = 1024
	MaxResponseTokens = 4096
)

// DefaultDefaults returns the built-in session defaults.
func DefaultDefaults() *Defaults {
	return &Defaults{
		Provider:       "openai",
		Temperature:    0.7,
		MaxTokens:      2048,
		Brevity:        "standard",
		CitationPolicy: "none",
		Rounds:         3,
	}
}

// ClampMaxTokens forces a requested token budget into the allowed range.
// Zero (unset) resolves to the configured default.
func (d *Defaults) ClampMaxTokens(requested int) int {
	if requested == 0 {
		requested = d.MaxTokens
	}
	if requested < MinResponseTokens {
		return MinResponseTokens
	}
	if requested > MaxResponseTokens {
		return MaxResponseTokens
	}
	return requested
}
