// Package secrets resolves store credentials from environment variables, a
// local secrets file or HashiCorp Vault.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Keys for the credentials depscope looks up.
const (
	GraphPassword  = "graph_password"
	VectorAPIKey   = "vector_api_key"
	TemporalAPIKey = "temporal_api_key"
)

// DefaultEnvPrefix is prepended to upper-cased keys by the env provider.
const DefaultEnvPrefix = "DEPSCOPE_"

// ErrNotFound is returned when no backend holds a key.
var ErrNotFound = errors.New("secret not found")

// Provider is a read-only secret backend.
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Name() string
}

// Config selects the primary backend. The environment is always consulted
// as a fallback.
type Config struct {
	// Provider is "env", "file" or "vault".
	Provider  string
	File      *FileConfig
	Vault     *VaultConfig
	EnvPrefix string
}

// Manager reads from the primary backend, then the environment, and caches
// what it finds.
type Manager struct {
	primary  Provider
	fallback Provider

	mu    sync.RWMutex
	cache map[string]string
}

// NewManager builds a manager for cfg. A nil cfg reads the environment only.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	env := NewEnvProvider(cfg.EnvPrefix)

	var primary Provider
	switch cfg.Provider {
	case "vault":
		if cfg.Vault == nil {
			return nil, errors.New("vault config required for vault provider")
		}
		p, err := NewVaultProvider(cfg.Vault)
		if err != nil {
			return nil, fmt.Errorf("create vault provider: %w", err)
		}
		primary = p
	case "file":
		if cfg.File == nil {
			return nil, errors.New("file config required for file provider")
		}
		p, err := NewFileProvider(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("create file provider: %w", err)
		}
		primary = p
	case "env", "":
		return &Manager{primary: env, cache: make(map[string]string)}, nil
	default:
		return nil, fmt.Errorf("unknown secrets provider: %s", cfg.Provider)
	}

	return &Manager{primary: primary, fallback: env, cache: make(map[string]string)}, nil
}

// Get returns the first non-empty value for key.
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	val, ok := m.cache[key]
	m.mu.RUnlock()
	if ok {
		return val, nil
	}

	var errs []error
	for _, p := range []Provider{m.primary, m.fallback} {
		if p == nil {
			continue
		}
		val, err := p.Get(ctx, key)
		if err == nil && val != "" {
			m.mu.Lock()
			m.cache[key] = val
			m.mu.Unlock()
			return val, nil
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, key)
}

// Lookup returns configured when it is set and otherwise the secret for key.
// A key no backend holds yields "" without error.
func (m *Manager) Lookup(ctx context.Context, configured, key string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	val, err := m.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return val, err
}

// ClearCache drops cached values so the next Get reads the backends again.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	m.cache = make(map[string]string)
	m.mu.Unlock()
}

// EnvProvider reads secrets from environment variables.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment-based provider.
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "env" }

// Get tries the prefixed variable, then the bare upper-cased key.
func (p *EnvProvider) Get(_ context.Context, key string) (string, error) {
	name := strings.ToUpper(key)
	if val := os.Getenv(p.prefix + name); val != "" {
		return val, nil
	}
	if val := os.Getenv(name); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("%w: %s%s", ErrNotFound, p.prefix, name)
}
