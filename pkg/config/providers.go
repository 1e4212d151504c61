package config

import (
	"fmt"
	"sync"
)

// ProviderType defines supported model provider protocols
type ProviderType string

const (
	// ProviderTypeOpenAI is the OpenAI API
	ProviderTypeOpenAI ProviderType = "openai"
	// ProviderTypeOpenAICompatible is any OpenAI-wire-compatible gateway
	// (requires base_url)
	ProviderTypeOpenAICompatible ProviderType = "openai-compatible"
)

// IsValid checks if the provider type is valid
func (t ProviderType) IsValid() bool {
	return t == ProviderTypeOpenAI || t == ProviderTypeOpenAICompatible
}

// ProviderConfig defines a model provider endpoint. Secrets are never
// stored here: APIKeyEnv names the environment variable the adapter layer
// reads at construction time.
type ProviderConfig struct {
	// Provider protocol (required)
	Type ProviderType `yaml:"type"`

	// Environment variable name for the API key
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// Optional custom endpoint/base URL (required for openai-compatible)
	BaseURL string `yaml:"base_url,omitempty"`

	// Default model when a participant names only the provider
	DefaultModel string `yaml:"default_model,omitempty"`
}

// ProviderRegistry stores provider configurations in memory with
// thread-safe access
type ProviderRegistry struct {
	providers map[string]*ProviderConfig
	mu        sync.RWMutex
}

// NewProviderRegistry creates a new provider registry
func NewProviderRegistry(providers map[string]*ProviderConfig) *ProviderRegistry {
	// The registry owns its map; callers keep no mutable handle.
	copied := make(map[string]*ProviderConfig, len(providers))
	for k, v := range providers {
		copied[k] = v
	}
	return &ProviderRegistry{
		providers: copied,
	}
}

// Get retrieves a provider configuration by name (thread-safe)
func (r *ProviderRegistry) Get(name string) (*ProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return provider, nil
}

// GetAll returns all provider configurations (thread-safe, returns copy)
func (r *ProviderRegistry) GetAll() map[string]*ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*ProviderConfig, len(r.providers))
	for k, v := range r.providers {
		result[k] = v
	}
	return result
}

// Has checks if a provider exists in the registry (thread-safe)
func (r *ProviderRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.providers[name]
	return exists
}

// Len returns the number of providers in the registry (thread-safe)
func (r *ProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// builtinProviders returns the providers available without any YAML.
func builtinProviders() map[string]*ProviderConfig {
	return map[string]*ProviderConfig{
		"openai": {
			Type:         ProviderTypeOpenAI,
			APIKeyEnv:    "OPENAI_API_KEY",
			DefaultModel: "gpt-4o",
		},
	}
}
