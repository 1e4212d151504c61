package agent

import (
	"fmt"
	"os"
	"time"

	"github.com/parleyhq/parley/pkg/config"
)

// AdapterFactory builds Adapter instances from the provider registry.
// Credentials are resolved from the environment here, at construction
// time, so a missing key fails the session before any turn runs.
type AdapterFactory struct {
	providers *config.ProviderRegistry
	defaults  *config.Defaults
	timeout   time.Duration
}

// NewAdapterFactory creates a factory over the given registry.
// Panics if either argument is nil — callers must pass loaded config.
func NewAdapterFactory(providers *config.ProviderRegistry, defaults *config.Defaults, requestTimeout time.Duration) *AdapterFactory {
	if providers == nil || defaults == nil {
		panic("agent.NewAdapterFactory: providers and defaults must not be nil")
	}
	return &AdapterFactory{
		providers: providers,
		defaults:  defaults,
		timeout:   requestTimeout,
	}
}

// CreateAdapter resolves providerName and model (falling back to the
// configured defaults) and returns a ready adapter.
func (f *AdapterFactory) CreateAdapter(providerName, model string) (Adapter, error) {
	if providerName == "" {
		providerName = f.defaults.Provider
	}

	pc, err := f.providers.Get(providerName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve provider %q: %w", providerName, err)
	}

	if model == "" {
		model = pc.DefaultModel
	}
	if model == "" {
		model = f.defaults.Model
	}
	if model == "" {
		return nil, fmt.Errorf("provider %q has no model configured and no default model is set", providerName)
	}

	apiKey := os.Getenv(pc.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("provider %q requires environment variable %s to be set", providerName, pc.APIKeyEnv)
	}

	switch pc.Type {
	case config.ProviderTypeOpenAI, config.ProviderTypeOpenAICompatible:
		opts := []OpenAIOption{}
		if pc.BaseURL != "" {
			opts = append(opts, WithBaseURL(pc.BaseURL))
		}
		if f.timeout > 0 {
			opts = append(opts, WithRequestTimeout(f.timeout))
		}
		return NewOpenAI(apiKey, model, opts...)
	default:
		return nil, fmt.Errorf("provider %q has unsupported type %q", providerName, pc.Type)
	}
}
