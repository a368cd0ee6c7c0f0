package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// VaultConfig locates a KV v2 secret holding depscope's credentials.
type VaultConfig struct {
	Address    string
	Token      string
	MountPath  string
	SecretPath string
	Timeout    time.Duration
}

// VaultProvider reads keys of one KV v2 secret.
type VaultProvider struct {
	config VaultConfig
	client *http.Client
}

// NewVaultProvider validates cfg and fills defaults.
func NewVaultProvider(cfg *VaultConfig) (*VaultProvider, error) {
	if cfg == nil || cfg.Address == "" {
		return nil, errors.New("vault address required")
	}
	if cfg.Token == "" {
		return nil, errors.New("vault token required")
	}
	c := *cfg
	if c.MountPath == "" {
		c.MountPath = "secret"
	}
	if c.SecretPath == "" {
		c.SecretPath = "depscope"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	return &VaultProvider{config: c, client: &http.Client{Timeout: c.Timeout}}, nil
}

func (p *VaultProvider) Name() string { return "vault" }

func (p *VaultProvider) url() string {
	return fmt.Sprintf("%s/v1/%s/data/%s",
		strings.TrimSuffix(p.config.Address, "/"), p.config.MountPath, p.config.SecretPath)
}

func (p *VaultProvider) Get(ctx context.Context, key string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Vault-Token", p.config.Token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("vault request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: vault path %s", ErrNotFound, p.config.SecretPath)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("vault error %d: %s", resp.StatusCode, body)
	}

	var result struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	val, ok := result.Data.Data[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if s, ok := val.(string); ok {
		return s, nil
	}
	return fmt.Sprint(val), nil
}
