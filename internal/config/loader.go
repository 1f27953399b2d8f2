package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/Enntity/cortex-sub003/internal/tools/mcptool"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
	"voice":      {"openai-realtime"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Models
	if len(cfg.Models.Endpoints) == 0 {
		slog.Warn("models.endpoints is empty; entities will not be able to generate responses")
	}
	modelsSeen := make(map[string]int, len(cfg.Models.Endpoints))
	for i, ep := range cfg.Models.Endpoints {
		prefix := fmt.Sprintf("models.endpoints[%d]", i)
		if ep.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", prefix))
		} else {
			if prev, ok := modelsSeen[ep.Model]; ok {
				errs = append(errs, fmt.Errorf("%s.model %q is a duplicate of models.endpoints[%d]", prefix, ep.Model, prev))
			}
			modelsSeen[ep.Model] = i
		}
		if ep.Provider.Name == "" {
			errs = append(errs, fmt.Errorf("%s.provider.name is required", prefix))
		}
		validateProviderName("llm", ep.Provider.Name)
		for j, fb := range ep.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("%s.fallbacks[%d].name is required", prefix, j))
			}
			validateProviderName("llm", fb.Name)
		}
	}
	if cfg.Models.Default != "" && len(cfg.Models.Endpoints) > 0 {
		if _, ok := modelsSeen[cfg.Models.Default]; !ok {
			errs = append(errs, fmt.Errorf("models.default %q does not name a configured endpoint", cfg.Models.Default))
		}
	}

	// Embeddings ↔ cold index dimensions
	validateProviderName("embeddings", cfg.Embeddings.Name)
	if cfg.Embeddings.Name == "" && cfg.Postgres.DSN != "" {
		slog.Warn("postgres.dsn is set but no embeddings provider is configured; semantic recall degrades to importance ranking")
	}

	// Voice
	validateProviderName("voice", cfg.Voice.Provider.Name)
	if cfg.Voice.Enabled && cfg.Voice.Provider.Name == "" {
		errs = append(errs, errors.New("voice.enabled requires voice.provider.name"))
	}

	// Hot tier
	if cfg.Redis.Addr == "" {
		slog.Warn("redis.addr is empty; hot continuity tier disabled, context degrades to cold index only")
	}
	if cfg.Redis.EncryptionKey != "" {
		key, err := base64.StdEncoding.DecodeString(cfg.Redis.EncryptionKey)
		if err != nil {
			errs = append(errs, fmt.Errorf("redis.encryption_key is not valid base64: %w", err))
		} else if n := len(key); n != 16 && n != 24 && n != 32 {
			errs = append(errs, fmt.Errorf("redis.encryption_key decodes to %d bytes; need 16, 24, or 32", n))
		}
	}

	// Cold tier
	if cfg.Postgres.DSN == "" {
		slog.Warn("postgres.dsn is empty; long-term memory will not be available")
	}
	if cfg.Postgres.EmbeddingDimensions <= 0 {
		errs = append(errs, fmt.Errorf("postgres.embedding_dimensions %d must be positive", cfg.Postgres.EmbeddingDimensions))
	}

	// Continuity tunables
	c := cfg.Continuity
	if c.EpisodicCapacity < 0 {
		errs = append(errs, fmt.Errorf("continuity.episodic_capacity %d must not be negative", c.EpisodicCapacity))
	}
	if c.DriftThreshold < 0 || c.DriftThreshold > 1 {
		errs = append(errs, fmt.Errorf("continuity.drift_threshold %.2f is out of range [0, 1]", c.DriftThreshold))
	}
	if c.Recall.VectorWeight < 0 || c.Recall.ImportanceWeight < 0 || c.Recall.RecencyWeight < 0 {
		errs = append(errs, errors.New("continuity.recall weights must not be negative"))
	}

	// Synthesis tunables
	s := cfg.Synthesis
	if s.ImportanceFloor < 1 || s.ImportanceFloor > 10 {
		errs = append(errs, fmt.Errorf("synthesis.importance_floor %d is out of range [1, 10]", s.ImportanceFloor))
	}
	if s.EMAAlpha <= 0 || s.EMAAlpha > 1 {
		errs = append(errs, fmt.Errorf("synthesis.ema_alpha %.2f is out of range (0, 1]", s.EMAAlpha))
	}
	if s.DeepMergeCosine < 0 || s.DeepMergeCosine > 1 {
		errs = append(errs, fmt.Errorf("synthesis.deep_merge_cosine %.2f is out of range [0, 1]", s.DeepMergeCosine))
	}

	// MCP servers
	mcpSeen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := mcpSeen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
			}
			mcpSeen[srv.Name] = i
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, http", prefix, srv.Transport))
		}
		if srv.Transport == mcptool.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == mcptool.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is http", prefix))
		}
	}

	return errors.Join(errs...)
}

// DecodeEncryptionKey decodes the configured hot-store encryption key.
// Returns nil when no key is configured.
func (r RedisConfig) DecodeEncryptionKey() ([]byte, error) {
	if r.EncryptionKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(r.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("config: redis.encryption_key: %w", err)
	}
	return key, nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
