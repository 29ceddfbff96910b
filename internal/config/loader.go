package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding an explicit config
// file path. It is the first candidate in the lookup order.
const EnvConfigPath = "CTX_CONFIG_PATH"

// defaultCandidates are tried, in order, after the explicit path.
var defaultCandidates = []string{
	"config/.ctxrc.yaml",
	".ctxrc.yaml",
}

// Load builds the effective configuration. The order, lowest to highest
// priority:
//  1. Default values (in code)
//  2. The first readable candidate file: $CTX_CONFIG_PATH,
//     ./config/.ctxrc.yaml, ./.ctxrc.yaml. A file that is missing or not
//     syntactically valid YAML is skipped and the next candidate is tried.
//  3. Environment variables.
//
// A file that parses but contains unknown keys is a hard error: the typo is
// more likely a misconfiguration than an extension.
func Load() (*Config, error) {
	cfg := Default()
	cfg.sources = []string{"defaults"}

	candidates := defaultCandidates
	if p := os.Getenv(EnvConfigPath); p != "" {
		candidates = append([]string{p}, candidates...)
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		// Syntax check first: unparseable YAML means "no config found here"
		// and the next candidate is tried.
		var probe yaml.Node
		if err := yaml.Unmarshal(data, &probe); err != nil {
			continue
		}
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		cfg.sources = append(cfg.sources, path)
		break
	}

	applyEnv(cfg)
	cfg.sources = append(cfg.sources, "env")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Sources reports where the configuration came from, for startup logging.
func (c *Config) Sources() []string {
	return c.sources
}

// applyEnv overlays environment variables onto the loaded configuration.
func applyEnv(cfg *Config) {
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.Server.Port = getEnvInt("PORT", cfg.Server.Port)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)

	cfg.Embedding.Endpoint = getEnv("EMBEDDING_ENDPOINT", cfg.Embedding.Endpoint)
	cfg.Embedding.Model = getEnv("EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.Dimensions = getEnvInt("EMBEDDING_DIMENSIONS", cfg.Embedding.Dimensions)
	cfg.Embedding.Strict = getEnvBool("STRICT_EMBEDDINGS", cfg.Embedding.Strict)

	cfg.Storage.Vector.DSN = getEnv("VECTOR_DSN", cfg.Storage.Vector.DSN)
	cfg.Storage.Vector.Table = getEnv("VECTOR_TABLE", cfg.Storage.Vector.Table)
	cfg.Storage.Graph.URI = getEnv("GRAPH_URI", cfg.Storage.Graph.URI)
	cfg.Storage.Graph.Username = getEnv("GRAPH_USERNAME", cfg.Storage.Graph.Username)
	cfg.Storage.Graph.Password = getEnv("GRAPH_PASSWORD", cfg.Storage.Graph.Password)
	cfg.Storage.Graph.Database = getEnv("GRAPH_DATABASE", cfg.Storage.Graph.Database)
	cfg.Storage.KV.Addr = getEnv("KV_ADDR", cfg.Storage.KV.Addr)
	cfg.Storage.KV.Password = getEnv("KV_PASSWORD", cfg.Storage.KV.Password)
	cfg.Storage.KV.DB = getEnvInt("KV_DB", cfg.Storage.KV.DB)

	cfg.Auth.Required = getEnvBool("AUTH_REQUIRED", cfg.Auth.Required)

	cfg.Tracing.Enabled = getEnvBool("TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.Endpoint)

	// One principal per API_KEY_* variable, value "key:principal:role:is_agent".
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, "API_KEY_") {
			continue
		}
		if key, err := parseKeySpec(value); err == nil {
			cfg.Auth.Keys = append(cfg.Auth.Keys, key)
		}
	}
	// The monitoring principal gets read-only access under a fixed name.
	if sentinel := os.Getenv("SENTINEL_API_KEY"); sentinel != "" {
		cfg.Auth.Keys = append(cfg.Auth.Keys, APIKey{
			Key: sentinel, Principal: "sentinel", Role: "reader", IsAgent: true,
		})
	}
}

// parseKeySpec parses the "key:principal:role:is_agent" format used by the
// API_KEY_* environment variables.
func parseKeySpec(spec string) (APIKey, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 4 {
		return APIKey{}, fmt.Errorf("api key spec needs 4 fields, got %d", len(parts))
	}
	isAgent, err := strconv.ParseBool(parts[3])
	if err != nil {
		return APIKey{}, fmt.Errorf("api key spec is_agent: %w", err)
	}
	return APIKey{Key: parts[0], Principal: parts[1], Role: parts[2], IsAgent: isAgent}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
