package config

// Config is the umbrella configuration object returned by Initialize()
// and threaded through the application. It bundles engine tuning, session
// defaults, the provider registry, and system-level settings.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// Engine timing and threshold knobs
	Engine *EngineConfig

	// Per-session defaults applied when a create request omits a value
	Defaults *Defaults

	// System-wide infrastructure settings
	System *SystemConfig

	// Model provider registry
	ProviderRegistry *ProviderRegistry
}

// Initialize is defined in loader.go

// Stats contains statistics about loaded configuration
type Stats struct {
	Providers int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.ProviderRegistry != nil {
		s.Providers = c.ProviderRegistry.Len()
	}
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetProvider retrieves a provider configuration by name.
// This is a convenience method that wraps ProviderRegistry.Get().
func (c *Config) GetProvider(name string) (*ProviderConfig, error) {
	return c.ProviderRegistry.Get(name)
}
