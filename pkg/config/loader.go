package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ParleyYAMLConfig represents the complete parley.yaml file structure
type ParleyYAMLConfig struct {
	System   *systemYAML `yaml:"system"`
	Engine   *engineYAML `yaml:"engine"`
	Defaults *Defaults   `yaml:"defaults"`
}

// ProvidersYAMLConfig represents the complete providers.yaml file structure
type ProvidersYAMLConfig struct {
	Providers map[string]*ProviderConfig `yaml:"providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in + user-defined configuration
//  5. Build the provider registry
//  6. Apply default values
//  7. Validate all configuration
//  8. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"providers", stats.Providers,
		"evaluator_model", cfg.Engine.EvaluatorModel)

	return cfg, nil
}

// Default returns a fully-defaulted configuration without touching the
// filesystem. Used when no config directory is supplied and by tests.
func Default() *Config {
	return &Config{
		Engine:           DefaultEngineConfig(),
		Defaults:         DefaultDefaults(),
		System:           resolveSystemConfig(nil),
		ProviderRegistry: NewProviderRegistry(builtinProviders()),
	}
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	// 1. Load parley.yaml (system, engine, defaults)
	parleyConfig, err := loader.loadParleyYAML()
	if err != nil {
		return nil, NewLoadError("parley.yaml", err)
	}

	// 2. Load providers.yaml. Optional: the built-in providers cover
	// installations that only need the stock OpenAI endpoint.
	userProviders, err := loader.loadProvidersYAML()
	if err != nil {
		return nil, NewLoadError("providers.yaml", err)
	}

	// 3. Merge built-in + user-defined providers (user overrides built-in)
	providers := builtinProviders()
	for name, p := range userProviders {
		providers[name] = p
	}

	// 4. Resolve session defaults (YAML overrides built-in, non-zero wins)
	defaults := DefaultDefaults()
	if parleyConfig.Defaults != nil {
		if err := mergo.Merge(defaults, parleyConfig.Defaults, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge session defaults: %w", err)
		}
	}

	// 5. Resolve engine + system config
	engineCfg := resolveEngineConfig(parleyConfig.Engine)
	systemCfg := resolveSystemConfig(parleyConfig.System)

	return &Config{
		configDir:        configDir,
		Engine:           engineCfg,
		Defaults:         defaults,
		System:           systemCfg,
		ProviderRegistry: NewProviderRegistry(providers),
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadParleyYAML() (*ParleyYAMLConfig, error) {
	var config ParleyYAMLConfig

	if err := l.loadYAML("parley.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func (l *configLoader) loadProvidersYAML() (map[string]*ProviderConfig, error) {
	var config ProvidersYAMLConfig

	// Initialize map to avoid nil map
	config.Providers = make(map[string]*ProviderConfig)

	if err := l.loadYAML("providers.yaml", &config); err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			slog.Debug("No providers.yaml found, using built-in providers only")
			return config.Providers, nil
		}
		return nil, err
	}

	return config.Providers, nil
}
