package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileConfig points at a flat YAML or JSON map of key to value.
type FileConfig struct {
	Path string
}

// FileProvider reads secrets from a local file. Meant for development.
type FileProvider struct {
	path string
	mu   sync.RWMutex
	data map[string]string
}

// NewFileProvider loads the file at cfg.Path. A missing file holds no keys.
func NewFileProvider(cfg *FileConfig) (*FileProvider, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, errors.New("file path required")
	}
	p := &FileProvider{path: cfg.Path, data: make(map[string]string)}
	if err := p.Reload(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load secrets file: %w", err)
	}
	return p, nil
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Get(_ context.Context, key string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	val, ok := p.data[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return val, nil
}

// Reload rereads the file.
func (p *FileProvider) Reload() error {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}
	data := make(map[string]string)
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parse %s: %w", p.path, err)
	}

	p.mu.Lock()
	p.data = data
	p.mu.Unlock()
	return nil
}
