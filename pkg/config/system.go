package config

// SystemConfig groups system-wide infrastructure settings.
type SystemConfig struct {
	// DashboardURL is the viewer origin allowed for CORS.
	DashboardURL string

	// AllowedWSOrigins are additional origin patterns accepted by the
	// conversation WebSocket endpoint.
	AllowedWSOrigins []string

	// Retention controls how long finished sessions are kept.
	Retention *RetentionConfig
}

// systemYAML is the YAML-facing shape of SystemConfig.
type systemYAML struct {
	DashboardURL     string           `yaml:"dashboard_url"`
	AllowedWSOrigins []string         `yaml:"allowed_ws_origins"`
	Retention        *RetentionConfig `yaml:"retention"`
}

// resolveSystemConfig resolves system configuration from YAML, applying defaults.
func resolveSystemConfig(y *systemYAML) *SystemConfig {
	cfg := &SystemConfig{
		DashboardURL: "http://localhost:5173",
		Retention:    resolveRetentionConfig(y),
	}

	if y == nil {
		return cfg
	}
	if y.DashboardURL != "" {
		cfg.DashboardURL = y.DashboardURL
	}
	cfg.AllowedWSOrigins = y.AllowedWSOrigins

	return cfg
}

// resolveRetentionConfig resolves retention configuration from system YAML,
// applying defaults.
func resolveRetentionConfig(y *systemYAML) *RetentionConfig {
	cfg := DefaultRetentionConfig()

	if y == nil || y.Retention == nil {
		return cfg
	}

	r := y.Retention
	if r.SessionRetentionDays > 0 {
		cfg.SessionRetentionDays = r.SessionRetentionDays
	}
	if r.CleanupInterval > 0 {
		cfg.CleanupInterval = r.CleanupInterval
	}

	return cfg
}
