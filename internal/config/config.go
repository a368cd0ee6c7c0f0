package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/efebarandurmaz/depscope/internal/cycles"
	"github.com/efebarandurmaz/depscope/internal/graph"
	"github.com/efebarandurmaz/depscope/internal/secrets"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Detection DetectionConfig `mapstructure:"detection"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Server    ServerConfig    `mapstructure:"server"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
}

// DetectionConfig bounds cycle detection. Zero limits mean unbounded.
type DetectionConfig struct {
	MaxDepth         int           `mapstructure:"max_depth"`
	MaxCycles        int           `mapstructure:"max_cycles"`
	Timeout          time.Duration `mapstructure:"timeout"`
	EdgeTypes        []string      `mapstructure:"edge_types"`
	ExcludeNodeTypes []string      `mapstructure:"exclude_node_types"`
}

type AnalysisConfig struct {
	TopN int `mapstructure:"top_n"`
}

type GraphConfig struct {
	URI       string `mapstructure:"uri"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Database  string `mapstructure:"database"`
	Namespace string `mapstructure:"namespace"`
}

type VectorConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type SnapshotConfig struct {
	Dir string `mapstructure:"dir"`
}

// SecretsConfig selects where store credentials left empty above are read
// from. The environment is always a fallback.
type SecretsConfig struct {
	Provider   string `mapstructure:"provider"`
	File       string `mapstructure:"file"`
	VaultAddr  string `mapstructure:"vault_addr"`
	VaultToken string `mapstructure:"vault_token"`
	VaultMount string `mapstructure:"vault_mount"`
	VaultPath  string `mapstructure:"vault_path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("detection.max_depth", 0)
	v.SetDefault("detection.max_cycles", 0)
	v.SetDefault("detection.timeout", cycles.DefaultTimeout)
	v.SetDefault("detection.edge_types", []string{})
	v.SetDefault("detection.exclude_node_types", []string{})
	v.SetDefault("analysis.top_n", 10)
	v.SetDefault("graph.uri", "")
	v.SetDefault("graph.username", "neo4j")
	v.SetDefault("graph.password", "")
	v.SetDefault("graph.database", "")
	v.SetDefault("graph.namespace", "default")
	v.SetDefault("vector.host", "")
	v.SetDefault("vector.port", 6334)
	v.SetDefault("vector.collection", "depscope_nodes")
	v.SetDefault("temporal.host", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "depscope-analysis")
	v.SetDefault("snapshot.dir", ".depscope/snapshots")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "depscope")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("secrets.provider", "env")
	v.SetDefault("secrets.file", "")
	v.SetDefault("secrets.vault_addr", "")
	v.SetDefault("secrets.vault_token", "")
	v.SetDefault("secrets.vault_mount", "secret")
	v.SetDefault("secrets.vault_path", "depscope")
}

// DetectionOptions converts the detection section to detector options.
func (c *Config) DetectionOptions() cycles.Options {
	opts := cycles.DefaultOptions()
	// Zero means unset. Anything else is copied so Options.Validate sees it.
	if c.Detection.MaxDepth != 0 {
		opts.MaxDepth = c.Detection.MaxDepth
	}
	if c.Detection.MaxCycles != 0 {
		opts.MaxCycles = c.Detection.MaxCycles
	}
	if c.Detection.Timeout != 0 {
		opts.Timeout = c.Detection.Timeout
	}
	for _, t := range c.Detection.EdgeTypes {
		opts.EdgeTypes = append(opts.EdgeTypes, graph.EdgeType(t))
	}
	for _, t := range c.Detection.ExcludeNodeTypes {
		opts.ExcludeNodeTypes = append(opts.ExcludeNodeTypes, graph.NodeType(t))
	}
	return opts
}

// SecretsManager builds the credential resolver for the secrets section.
func (c *Config) SecretsManager() (*secrets.Manager, error) {
	s := c.Secrets
	return secrets.NewManager(&secrets.Config{
		Provider: s.Provider,
		File:     &secrets.FileConfig{Path: s.File},
		Vault: &secrets.VaultConfig{
			Address:    s.VaultAddr,
			Token:      s.VaultToken,
			MountPath:  s.VaultMount,
			SecretPath: s.VaultPath,
		},
	})
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	for _, t := range c.Detection.EdgeTypes {
		if !graph.EdgeType(t).Known() {
			warnings = append(warnings, fmt.Sprintf("detection edge type '%s' is not a built-in type", t))
		}
	}
	for _, t := range c.Detection.ExcludeNodeTypes {
		if !graph.NodeType(t).Known() {
			warnings = append(warnings, fmt.Sprintf("excluded node type '%s' is not a built-in type", t))
		}
	}

	if c.Analysis.TopN < 0 {
		warnings = append(warnings, fmt.Sprintf("analysis top_n %d is negative", c.Analysis.TopN))
	}

	if c.Graph.URI != "" && c.Graph.Password == "" && (c.Secrets.Provider == "" || c.Secrets.Provider == "env") {
		warnings = append(warnings, "graph uri is configured but password is empty")
	}
	switch c.Secrets.Provider {
	case "", "env", "file", "vault":
	default:
		warnings = append(warnings, fmt.Sprintf("secrets provider '%s' is unknown", c.Secrets.Provider))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		warnings = append(warnings, fmt.Sprintf("tracing sample_rate %.2f is outside [0.0, 1.0]", c.Tracing.SampleRate))
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		warnings = append(warnings, fmt.Sprintf("log format '%s' is unknown, falling back to text", c.Log.Format))
	}

	return warnings
}

// Load reads configuration from file and environment. An empty path uses
// defaults and DEPSCOPE_* environment variables only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("DEPSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.DetectionOptions().Validate(); err != nil {
		return nil, fmt.Errorf("detection: %w", err)
	}

	return &cfg, nil
}
