package provider

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"linegem/internal/config"
	"linegem/internal/domain"
)

// ProviderConstructor builds a provider from the AI config section.
type ProviderConstructor func(cfg config.AIConfig, logger *slog.Logger) domain.Provider

// Factory creates the configured AI provider once and reuses it.
type Factory struct {
	cfg          config.AIConfig
	logger       *slog.Logger
	constructors map[string]ProviderConstructor
	cached       domain.Provider
	mu           sync.Mutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg config.AIConfig, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]ProviderConstructor),
	}
	f.constructors["gemini"] = func(c config.AIConfig, logger *slog.Logger) domain.Provider {
		return NewGemini(GeminiConfig{
			APIKey:     c.APIKey,
			APIBase:    c.APIBase,
			Model:      c.Model,
			HTTPClient: SharedHTTPClient(time.Duration(c.TimeoutSeconds) * time.Second),
			Logger:     logger,
		})
	}
	f.constructors["openai"] = func(c config.AIConfig, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{
			APIKey:     c.APIKey,
			APIBase:    c.APIBase,
			Model:      c.Model,
			HTTPClient: SharedHTTPClient(time.Duration(c.TimeoutSeconds) * time.Second),
			Logger:     logger,
		})
	}
	return f
}

// RegisterConstructor adds (or replaces) a provider constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

// Provider returns the configured provider, constructing it on first use.
func (f *Factory) Provider() (domain.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cached != nil {
		return f.cached, nil
	}
	ctor, ok := f.constructors[f.cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown AI provider: %s", f.cfg.Provider)
	}
	if f.cfg.APIKey == "" {
		f.logger.Warn("AI provider has no API key configured", "provider", f.cfg.Provider)
	}
	f.cached = ctor(f.cfg, f.logger)
	return f.cached, nil
}
