package llm

import (
	"fmt"
	"sync"

	"github.com/fabrikhq/fabrik/internal/config"
	"github.com/fabrikhq/fabrik/internal/logging"
)

// Registry manages language-model provider clients.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client // provider name → client
	fallback string            // default provider name
	log      *logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients: make(map[string]Client),
		log:     log.Sub("llm.registry"),
	}
}

// Register adds a client under the given provider name.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	r.log.Info().Str("provider", name).Msg("registered LLM provider")
}

// SetFallback sets the default provider used when no name matches.
func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// Resolve returns the Client for the given provider name, falling back to
// the default provider when the name is unknown or empty.
func (r *Registry) Resolve(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.clients[name]; ok {
		return c, nil
	}
	if r.fallback != "" {
		if c, ok := r.clients[r.fallback]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no LLM provider named %q", name)
}

// List returns all registered provider names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	return names
}

// NewRegistryFromConfig builds a Registry from configured provider entries.
func NewRegistryFromConfig(providers map[string]config.ProviderEntry, defaults config.DefaultsConfig, log *logging.Logger) *Registry {
	reg := NewRegistry(log)

	for name, entry := range providers {
		switch name {
		case "ollama":
			reg.Register(name, NewOllamaClient(entry.BaseURL, entry.Model))
		default:
			// Unknown providers use the generic Ollama-compatible shape;
			// anything speaking /api/generate works.
			reg.Register(name, NewOllamaClient(entry.BaseURL, entry.Model))
		}
	}

	if len(providers) == 0 {
		// Local default so a bare install can still run.
		reg.Register("ollama", NewOllamaClient("", defaults.Model))
	}

	reg.SetFallback(defaults.Provider)
	return reg
}
