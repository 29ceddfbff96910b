// Package config provides configuration loading with a layered hierarchy:
// defaults in code, a single YAML file found by candidate lookup, then
// environment variables. Configuration is immutable after startup; changing
// it requires a restart.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the service.
type Config struct {
	Environment string          `yaml:"environment"`
	Server      ServerConfig    `yaml:"server"`
	Log         LogConfig       `yaml:"log"`
	Embedding   EmbeddingConfig `yaml:"embedding"`
	Storage     StorageConfig   `yaml:"storage"`
	TTL         TTLConfig       `yaml:"ttl"`
	Dispatch    DispatchConfig  `yaml:"dispatch"`
	Ranking     RankingConfig   `yaml:"ranking"`
	Expansion   ExpansionConfig `yaml:"expansion"`
	Retention   RetentionConfig `yaml:"retention"`
	Locks       LockConfig      `yaml:"locks"`
	Sync        SyncConfig      `yaml:"sync"`
	Auth        AuthConfig      `yaml:"auth"`
	Tracing     TracingConfig   `yaml:"tracing"`

	// sources tracks where configuration was loaded from, for startup logs.
	sources []string
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	RequestTimeout     Duration `yaml:"request_timeout"`
	ShutdownTimeout    Duration `yaml:"shutdown_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// EmbeddingConfig selects the embedding model and target dimension.
type EmbeddingConfig struct {
	Endpoint   string   `yaml:"endpoint"`
	Model      string   `yaml:"model"`
	Dimensions int      `yaml:"dimensions"`
	Timeout    Duration `yaml:"timeout"`
	// Strict makes a failed startup self-test fatal (exit code 3).
	// Overridden by the STRICT_EMBEDDINGS environment variable.
	Strict bool `yaml:"strict"`
}

// StorageConfig holds endpoints and credentials for the three engines.
type StorageConfig struct {
	Vector VectorConfig `yaml:"vector"`
	Graph  GraphConfig  `yaml:"graph"`
	KV     KVConfig     `yaml:"kv"`
	// StartupGrace bounds connection retries before exit code 2.
	StartupGrace Duration `yaml:"startup_grace"`
}

// VectorConfig configures the pgvector-backed vector store.
type VectorConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// GraphConfig configures the graph database driver.
type GraphConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// KVConfig configures the Redis-backed KV store.
type KVConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TTLConfig holds the preset lifetimes applied by the TTL wrapper.
type TTLConfig struct {
	Scratchpad Duration `yaml:"scratchpad"`
	Session    Duration `yaml:"session"`
	Cache      Duration `yaml:"cache"`
	Temporary  Duration `yaml:"temporary"`
	Persistent Duration `yaml:"persistent"`
	// MissingKeyAction controls what the sweeper does with keys that have
	// no TTL: "default" assigns the scratchpad preset, "delete" removes
	// them, "log" only reports.
	MissingKeyAction string `yaml:"missing_key_action"`
}

// DispatchConfig tunes the query dispatcher.
type DispatchConfig struct {
	DefaultPolicy string `yaml:"default_policy"`
	// Per-backend budgets in milliseconds, keyed by backend name.
	DeadlinesMS      map[string]int `yaml:"per_backend_deadlines_ms"`
	GlobalDeadlineMS int            `yaml:"global_deadline_ms"`
	DefaultLimit     int            `yaml:"default_limit"`
	MaxLimit         int            `yaml:"max_limit"`
	// MaxInFlight caps concurrent calls per backend; excess requests fail
	// fast instead of queueing unboundedly.
	MaxInFlight int `yaml:"max_in_flight"`
	// SmartConfidence is the top-score threshold at which the smart policy
	// cancels backends that have not answered yet.
	SmartConfidence float64 `yaml:"smart_confidence"`
}

// RankingPolicy is one named weight vector for the scorer.
type RankingPolicy struct {
	Name             string  `yaml:"name"`
	Dense            float64 `yaml:"dense"`
	Lexical          float64 `yaml:"lexical"`
	Graph            float64 `yaml:"graph"`
	FactPrior        float64 `yaml:"fact_prior"`
	RecencyTauDays   float64 `yaml:"recency_tau_days"`
	ExactMatchFactor float64 `yaml:"exact_match_factor"`
	TechnicalBoost   float64 `yaml:"technical_boost"`
}

// RankingConfig holds scorer policies and rewriter limits.
type RankingConfig struct {
	Policies          []RankingPolicy `yaml:"policies"`
	DefaultPolicy     string          `yaml:"default_policy"`
	MaxRewrites       int             `yaml:"max_rewrites"`
	RewriteConfidence float64         `yaml:"rewrite_confidence"`
}

// ExpansionConfig bounds Q&A pair generation.
type ExpansionConfig struct {
	MaxPairs int `yaml:"max_pairs"`
}

// RetentionConfig sets per-scope data retention. It governs how long KV
// copies of contexts live and the purge deadline for scope-expired data.
type RetentionConfig struct {
	Global  Duration `yaml:"global"`
	Project Duration `yaml:"project"`
	Team    Duration `yaml:"team"`
	User    Duration `yaml:"user"`
}

// Map returns the retentions keyed by namespace scope.
func (r RetentionConfig) Map() map[string]time.Duration {
	return map[string]time.Duration{
		"global":  r.Global.Std(),
		"project": r.Project.Std(),
		"team":    r.Team.Std(),
		"user":    r.User.Std(),
	}
}

// LockConfig bounds namespace lease TTLs. Locks are always short; data
// retention is configured separately.
type LockConfig struct {
	MinTTL     Duration `yaml:"min_ttl"`
	MaxTTL     Duration `yaml:"max_ttl"`
	DefaultTTL Duration `yaml:"default_ttl"`
}

// SyncConfig tunes the background sync worker.
type SyncConfig struct {
	Interval       Duration `yaml:"interval"`
	Jitter         Duration `yaml:"jitter"`
	EventRetention Duration `yaml:"event_retention"`
	EventCap       int      `yaml:"event_cap"`
	FlushTimeout   Duration `yaml:"flush_timeout"`
}

// APIKey is one configured principal.
type APIKey struct {
	Key       string `yaml:"key"`
	Principal string `yaml:"principal"`
	Role      string `yaml:"role"`
	IsAgent   bool   `yaml:"is_agent"`
}

// AuthConfig holds authentication settings and the key registry.
type AuthConfig struct {
	Required      bool     `yaml:"required"`
	Keys          []APIKey `yaml:"keys"`
	RatePerMinute int      `yaml:"rate_per_minute"`
}

// TracingConfig controls the OTLP trace exporter.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// hardMaxQAPairs is the ceiling on Q&A expansion regardless of config.
const hardMaxQAPairs = 8

// Default returns the built-in configuration that files and environment
// variables overlay.
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			RequestTimeout:  Duration(30 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Log: LogConfig{Level: "info"},
		Embedding: EmbeddingConfig{
			Endpoint:   "http://localhost:11434",
			Model:      "all-minilm",
			Dimensions: 384,
			Timeout:    Duration(10 * time.Second),
		},
		Storage: StorageConfig{
			Vector:       VectorConfig{DSN: "postgres://localhost:5432/ctxstore?sslmode=disable", Table: "contexts"},
			Graph:        GraphConfig{URI: "bolt://localhost:7687", Username: "neo4j", Database: "neo4j"},
			KV:           KVConfig{Addr: "localhost:6379"},
			StartupGrace: Duration(30 * time.Second),
		},
		TTL: TTLConfig{
			Scratchpad:       Duration(time.Hour),
			Session:          Duration(7 * 24 * time.Hour),
			Cache:            Duration(5 * time.Minute),
			Temporary:        Duration(time.Minute),
			Persistent:       Duration(30 * 24 * time.Hour),
			MissingKeyAction: "default",
		},
		Dispatch: DispatchConfig{
			DefaultPolicy: "parallel",
			DeadlinesMS: map[string]int{
				"kv":     3,
				"text":   20,
				"vector": 100,
				"graph":  200,
			},
			GlobalDeadlineMS: 500,
			DefaultLimit:     5,
			MaxLimit:         100,
			MaxInFlight:      32,
			SmartConfidence:  0.7,
		},
		Ranking: RankingConfig{
			Policies: []RankingPolicy{
				{
					Name: "balanced", Dense: 0.5, Lexical: 0.25, Graph: 0.15, FactPrior: 0.1,
					RecencyTauDays: 30, ExactMatchFactor: 1.5, TechnicalBoost: 1.2,
				},
				{
					Name: "semantic", Dense: 0.8, Lexical: 0.1, Graph: 0.05, FactPrior: 0.05,
					RecencyTauDays: 90, ExactMatchFactor: 1.2, TechnicalBoost: 1.1,
				},
				{
					Name: "lexical", Dense: 0.2, Lexical: 0.6, Graph: 0.1, FactPrior: 0.1,
					RecencyTauDays: 30, ExactMatchFactor: 2.0, TechnicalBoost: 1.0,
				},
			},
			DefaultPolicy:     "balanced",
			MaxRewrites:       3,
			RewriteConfidence: 0.4,
		},
		Expansion: ExpansionConfig{MaxPairs: hardMaxQAPairs},
		Retention: RetentionConfig{
			Global:  Duration(30 * 24 * time.Hour),
			Project: Duration(14 * 24 * time.Hour),
			Team:    Duration(7 * 24 * time.Hour),
			User:    Duration(24 * time.Hour),
		},
		Locks: LockConfig{
			MinTTL:     Duration(time.Second),
			MaxTTL:     Duration(5 * time.Minute),
			DefaultTTL: Duration(30 * time.Second),
		},
		Sync: SyncConfig{
			Interval:       Duration(time.Hour),
			Jitter:         Duration(5 * time.Minute),
			EventRetention: Duration(30 * 24 * time.Hour),
			EventCap:       10000,
			FlushTimeout:   Duration(30 * time.Second),
		},
		Auth: AuthConfig{
			Required:      true,
			RatePerMinute: 120,
		},
	}
}

// Validate checks cross-field constraints after all sources are applied.
func (c *Config) Validate() error {
	if c.Environment != "development" && c.Environment != "production" && c.Environment != "test" {
		return fmt.Errorf("environment must be development, production, or test, got %q", c.Environment)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Dispatch.DefaultLimit < 1 || c.Dispatch.MaxLimit < c.Dispatch.DefaultLimit {
		return fmt.Errorf("dispatch limits invalid: default %d, max %d", c.Dispatch.DefaultLimit, c.Dispatch.MaxLimit)
	}
	switch c.Dispatch.DefaultPolicy {
	case "parallel", "sequential", "fallback", "smart":
	default:
		return fmt.Errorf("unknown dispatch policy %q", c.Dispatch.DefaultPolicy)
	}
	if c.Dispatch.SmartConfidence <= 0 || c.Dispatch.SmartConfidence > 1 {
		return fmt.Errorf("dispatch smart_confidence must be in (0, 1], got %v", c.Dispatch.SmartConfidence)
	}
	for _, ttl := range []Duration{c.TTL.Scratchpad, c.TTL.Session, c.TTL.Cache, c.TTL.Temporary, c.TTL.Persistent} {
		if ttl.Std() <= 0 {
			return fmt.Errorf("ttl presets must be positive")
		}
	}
	switch c.TTL.MissingKeyAction {
	case "default", "delete", "log":
	default:
		return fmt.Errorf("ttl missing_key_action must be default, delete, or log, got %q", c.TTL.MissingKeyAction)
	}
	if c.Expansion.MaxPairs < 0 || c.Expansion.MaxPairs > hardMaxQAPairs {
		return fmt.Errorf("expansion max_pairs must be in [0,%d], got %d", hardMaxQAPairs, c.Expansion.MaxPairs)
	}
	for scope, d := range c.Retention.Map() {
		if d <= 0 {
			return fmt.Errorf("retention for scope %q must be positive", scope)
		}
	}
	if c.Locks.MinTTL.Std() <= 0 || c.Locks.MaxTTL.Std() < c.Locks.MinTTL.Std() {
		return fmt.Errorf("lock ttl bounds invalid: min %s, max %s", c.Locks.MinTTL.Std(), c.Locks.MaxTTL.Std())
	}
	if d := c.Locks.DefaultTTL.Std(); d < c.Locks.MinTTL.Std() || d > c.Locks.MaxTTL.Std() {
		return fmt.Errorf("lock default ttl %s outside [%s, %s]", d, c.Locks.MinTTL.Std(), c.Locks.MaxTTL.Std())
	}
	if len(c.Ranking.Policies) == 0 {
		return fmt.Errorf("at least one ranking policy is required")
	}
	names := make(map[string]bool, len(c.Ranking.Policies))
	for _, p := range c.Ranking.Policies {
		if p.Name == "" {
			return fmt.Errorf("ranking policy without a name")
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate ranking policy %q", p.Name)
		}
		names[p.Name] = true
	}
	if !names[c.Ranking.DefaultPolicy] {
		return fmt.Errorf("default ranking policy %q is not defined", c.Ranking.DefaultPolicy)
	}
	for _, k := range c.Auth.Keys {
		switch k.Role {
		case "admin", "writer", "reader", "guest":
		default:
			return fmt.Errorf("api key for %q has unknown role %q", k.Principal, k.Role)
		}
		if k.Key == "" || k.Principal == "" {
			return fmt.Errorf("api key entries need key and principal")
		}
	}
	if c.IsProduction() && c.Auth.Required && len(c.Auth.Keys) == 0 {
		return fmt.Errorf("production requires at least one api key when auth is enabled")
	}
	return nil
}

// Policy returns the named ranking policy, or the default when name is "".
func (c *Config) Policy(name string) (RankingPolicy, bool) {
	if name == "" {
		name = c.Ranking.DefaultPolicy
	}
	for _, p := range c.Ranking.Policies {
		if p.Name == name {
			return p, true
		}
	}
	return RankingPolicy{}, false
}

// BackendDeadline returns the per-backend budget as a duration.
func (c *Config) BackendDeadline(backend string) time.Duration {
	if ms, ok := c.Dispatch.DeadlinesMS[backend]; ok && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return time.Duration(c.Dispatch.GlobalDeadlineMS) * time.Millisecond
}

// IsDevelopment returns true in the development environment.
func (c *Config) IsDevelopment() bool { return c.Environment == "development" }

// IsProduction returns true in the production environment.
func (c *Config) IsProduction() bool { return c.Environment == "production" }
