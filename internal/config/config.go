// Package config loads and validates ragpp's runtime configuration:
// hardcoded defaults, overlaid by an optional YAML file, overlaid by
// RAGPP_* environment variables (highest precedence).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete ragpp runtime configuration.
type Config struct {
	Version  int            `yaml:"version" json:"version"`
	Index    IndexConfig    `yaml:"index" json:"index"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Evidence EvidenceConfig `yaml:"evidence" json:"evidence"`
	Solver   SolverConfig   `yaml:"solver" json:"solver"`
	Timeouts TimeoutConfig  `yaml:"timeouts" json:"timeouts"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Embedder EmbedderConfig `yaml:"embedder" json:"embedder"`
}

// IndexConfig configures the vector index (C1).
type IndexConfig struct {
	Dimension      int    `yaml:"dimension" json:"dimension"`
	Capacity       int    `yaml:"capacity" json:"capacity"`
	Fanout         int    `yaml:"fanout" json:"fanout"`
	EfConstruction int    `yaml:"ef_construction" json:"ef_construction"`
	EfSearch       int    `yaml:"ef_search" json:"ef_search"`
	Space          string `yaml:"space" json:"space"`
	Seed           uint64 `yaml:"seed" json:"seed"`
	SnapshotPath   string `yaml:"snapshot_path" json:"snapshot_path"`
}

// CacheConfig configures the facts store (C3).
type CacheConfig struct {
	Capacity    int     `yaml:"capacity" json:"capacity"`
	TauCache    float32 `yaml:"tau_cache" json:"tau_cache"`
	TauFuzzy    float32 `yaml:"tau_fuzzy" json:"tau_fuzzy"`
	Alpha       float64 `yaml:"alpha" json:"alpha"`
	Beta        float64 `yaml:"beta" json:"beta"`
	HotSetSize  int     `yaml:"hot_set_size" json:"hot_set_size"`
	EnableFuzzy bool    `yaml:"enable_fuzzy_cache" json:"enable_fuzzy_cache"`
}

// EvidenceConfig configures the evidence gate (C5).
type EvidenceConfig struct {
	TauEvidence float32 `yaml:"tau_evidence" json:"tau_evidence"`
}

// SolverConfig configures the solver pool (C6).
type SolverConfig struct {
	NSolvers           int       `yaml:"n_solvers" json:"n_solvers"`
	UseMultiAgent      bool      `yaml:"use_multi_agent" json:"use_multi_agent"`
	EnableVerification bool      `yaml:"enable_verification" json:"enable_verification"`
	Temperatures       []float64 `yaml:"temperatures" json:"temperatures"`
}

// TimeoutConfig configures per-stage and per-request deadlines.
type TimeoutConfig struct {
	Embed   time.Duration `yaml:"t_embed" json:"t_embed"`
	Search  time.Duration `yaml:"t_search" json:"t_search"`
	Solver  time.Duration `yaml:"t_solver" json:"t_solver"`
	Pool    time.Duration `yaml:"t_pool" json:"t_pool"`
	Request time.Duration `yaml:"t_request" json:"t_request"`
}

// ServerConfig configures the query/admin HTTP surface.
type ServerConfig struct {
	Address  string `yaml:"address" json:"address"`
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// EmbedderConfig selects which capability.Embedder backs the core.
// "stub" (the default) needs no network and is deterministic, suitable
// for tests and offline operation. "ollama" calls a local Ollama server.
type EmbedderConfig struct {
	Provider string `yaml:"provider" json:"provider"`
	Host     string `yaml:"host" json:"host"`
	Model    string `yaml:"model" json:"model"`
}

// TopK is the default number of passages retrieved per query.
const TopK = 5

// NewConfig returns a Config populated with its documented defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Index: IndexConfig{
			Dimension:      768,
			Capacity:       1_000_000,
			Fanout:         16,
			EfConstruction: 128,
			EfSearch:       64,
			Space:          "cosine",
			Seed:           1,
		},
		Cache: CacheConfig{
			Capacity:    10_000,
			TauCache:    0.70,
			TauFuzzy:    0.85,
			Alpha:       1,
			Beta:        3600,
			HotSetSize:  256,
			EnableFuzzy: true,
		},
		Evidence: EvidenceConfig{
			TauEvidence: 0.70,
		},
		Solver: SolverConfig{
			NSolvers:           1,
			UseMultiAgent:      false,
			EnableVerification: true,
			Temperatures:       []float64{0.0, 0.3, 0.7, 0.9, 0.95, 0.97, 0.99, 1.0},
		},
		Timeouts: TimeoutConfig{
			Embed:   5 * time.Second,
			Search:  2 * time.Second,
			Solver:  15 * time.Second,
			Pool:    25 * time.Second,
			Request: 30 * time.Second,
		},
		Server: ServerConfig{
			Address:  ":8080",
			LogLevel: "info",
		},
		Embedder: EmbedderConfig{
			Provider: "stub",
		},
	}
}

// Load builds a Config from defaults, an optional YAML file in dir
// (ragpp.yaml or ragpp.yml), then RAGPP_* environment overrides, and
// validates the result.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{"ragpp.yaml", "ragpp.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return c.loadYAML(path)
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith overlays non-zero fields from other onto c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.Index.Dimension != 0 {
		c.Index.Dimension = other.Index.Dimension
	}
	if other.Index.Capacity != 0 {
		c.Index.Capacity = other.Index.Capacity
	}
	if other.Index.Fanout != 0 {
		c.Index.Fanout = other.Index.Fanout
	}
	if other.Index.EfConstruction != 0 {
		c.Index.EfConstruction = other.Index.EfConstruction
	}
	if other.Index.EfSearch != 0 {
		c.Index.EfSearch = other.Index.EfSearch
	}
	if other.Index.Space != "" {
		c.Index.Space = other.Index.Space
	}
	if other.Index.Seed != 0 {
		c.Index.Seed = other.Index.Seed
	}
	if other.Index.SnapshotPath != "" {
		c.Index.SnapshotPath = other.Index.SnapshotPath
	}
	if other.Cache.Capacity != 0 {
		c.Cache.Capacity = other.Cache.Capacity
	}
	if other.Cache.TauCache != 0 {
		c.Cache.TauCache = other.Cache.TauCache
	}
	if other.Cache.TauFuzzy != 0 {
		c.Cache.TauFuzzy = other.Cache.TauFuzzy
	}
	if other.Cache.Alpha != 0 {
		c.Cache.Alpha = other.Cache.Alpha
	}
	if other.Cache.Beta != 0 {
		c.Cache.Beta = other.Cache.Beta
	}
	if other.Cache.HotSetSize != 0 {
		c.Cache.HotSetSize = other.Cache.HotSetSize
	}
	if other.Solver.UseMultiAgent {
		c.Solver.UseMultiAgent = true
	}
	if other.Evidence.TauEvidence != 0 {
		c.Evidence.TauEvidence = other.Evidence.TauEvidence
	}
	if other.Solver.NSolvers != 0 {
		c.Solver.NSolvers = other.Solver.NSolvers
	}
	if len(other.Solver.Temperatures) != 0 {
		c.Solver.Temperatures = other.Solver.Temperatures
	}
	if other.Timeouts.Embed != 0 {
		c.Timeouts.Embed = other.Timeouts.Embed
	}
	if other.Timeouts.Search != 0 {
		c.Timeouts.Search = other.Timeouts.Search
	}
	if other.Timeouts.Solver != 0 {
		c.Timeouts.Solver = other.Timeouts.Solver
	}
	if other.Timeouts.Pool != 0 {
		c.Timeouts.Pool = other.Timeouts.Pool
	}
	if other.Timeouts.Request != 0 {
		c.Timeouts.Request = other.Timeouts.Request
	}
	if other.Server.Address != "" {
		c.Server.Address = other.Server.Address
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.Embedder.Provider != "" {
		c.Embedder.Provider = other.Embedder.Provider
	}
	if other.Embedder.Host != "" {
		c.Embedder.Host = other.Embedder.Host
	}
	if other.Embedder.Model != "" {
		c.Embedder.Model = other.Embedder.Model
	}
}

// applyEnvOverrides applies RAGPP_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RAGPP_INDEX_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Index.Dimension = n
		}
	}
	if v := os.Getenv("RAGPP_INDEX_SPACE"); v != "" {
		c.Index.Space = v
	}
	if v := os.Getenv("RAGPP_CACHE_TAU_CACHE"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			c.Cache.TauCache = float32(f)
		}
	}
	if v := os.Getenv("RAGPP_CACHE_TAU_FUZZY"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			c.Cache.TauFuzzy = float32(f)
		}
	}
	if v := os.Getenv("RAGPP_EVIDENCE_TAU"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			c.Evidence.TauEvidence = float32(f)
		}
	}
	if v := os.Getenv("RAGPP_SOLVER_N_SOLVERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Solver.NSolvers = n
		}
	}
	if v := os.Getenv("RAGPP_SOLVER_USE_MULTI_AGENT"); v != "" {
		c.Solver.UseMultiAgent = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("RAGPP_SERVER_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("RAGPP_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("RAGPP_EMBEDDER_PROVIDER"); v != "" {
		c.Embedder.Provider = v
	}
	if v := os.Getenv("RAGPP_EMBEDDER_HOST"); v != "" {
		c.Embedder.Host = v
	}
	if v := os.Getenv("RAGPP_EMBEDDER_MODEL"); v != "" {
		c.Embedder.Model = v
	}
}

// Validate checks the configuration for internally-consistent values.
func (c *Config) Validate() error {
	if c.Index.Dimension <= 0 {
		return fmt.Errorf("index.dimension must be positive, got %d", c.Index.Dimension)
	}
	validSpaces := map[string]bool{"cosine": true, "inner_product": true, "l2": true}
	if !validSpaces[strings.ToLower(c.Index.Space)] {
		return fmt.Errorf("index.space must be 'cosine', 'inner_product', or 'l2', got %s", c.Index.Space)
	}
	if c.Cache.TauCache < 0 || c.Cache.TauCache > 1 {
		return fmt.Errorf("cache.tau_cache must be between 0 and 1, got %f", c.Cache.TauCache)
	}
	if c.Cache.TauFuzzy < 0 || c.Cache.TauFuzzy > 1 {
		return fmt.Errorf("cache.tau_fuzzy must be between 0 and 1, got %f", c.Cache.TauFuzzy)
	}
	if c.Evidence.TauEvidence < 0 || c.Evidence.TauEvidence > 1 {
		return fmt.Errorf("evidence.tau_evidence must be between 0 and 1, got %f", c.Evidence.TauEvidence)
	}
	if c.Solver.NSolvers < 1 || c.Solver.NSolvers > 8 {
		return fmt.Errorf("solver.n_solvers must be between 1 and 8, got %d", c.Solver.NSolvers)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}
	validProviders := map[string]bool{"stub": true, "ollama": true}
	if !validProviders[strings.ToLower(c.Embedder.Provider)] {
		return fmt.Errorf("embedder.provider must be 'stub' or 'ollama', got %s", c.Embedder.Provider)
	}
	return nil
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
