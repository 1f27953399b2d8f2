package config

import (
	"encoding/base64"
	"strings"
	"testing"
)

// validYAML is a config exercising most of the schema.
const validYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
models:
  default: fast
  endpoints:
    - model: fast
      provider:
        name: openai
        api_key: sk-test
        model: gpt-4.1-mini
    - model: deep
      provider:
        name: anthropic
        api_key: sk-ant
embeddings:
  name: openai
  api_key: sk-test
  model: text-embedding-3-small
redis:
  addr: localhost:6379
  namespace: testns
postgres:
  dsn: postgres://localhost/cortex
  embedding_dimensions: 1536
entities:
  bootstrap_dir: entities/
  default: Cortex
pathways:
  dir: pathways/
mcp:
  servers:
    - name: search
      transport: stdio
      command: "search-server --local"
`

func mustLoad(t *testing.T, yml string) *Config {
	t.Helper()
	cfg, err := LoadFromReader(strings.NewReader(yml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func TestLoadFromReaderValidConfig(t *testing.T) {
	cfg := mustLoad(t, validYAML)

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Models.Default != "fast" {
		t.Errorf("models.default = %q", cfg.Models.Default)
	}
	if len(cfg.Models.Endpoints) != 2 {
		t.Fatalf("endpoints = %d", len(cfg.Models.Endpoints))
	}
	if cfg.Models.Endpoints[0].Provider.Model != "gpt-4.1-mini" {
		t.Errorf("endpoint provider model = %q", cfg.Models.Endpoints[0].Provider.Model)
	}
	if cfg.Redis.Namespace != "testns" {
		t.Errorf("redis.namespace = %q", cfg.Redis.Namespace)
	}
	if len(cfg.MCP.Servers) != 1 || cfg.MCP.Servers[0].Name != "search" {
		t.Errorf("mcp.servers = %+v", cfg.MCP.Servers)
	}
}

func TestLoadFromReaderAppliesDefaults(t *testing.T) {
	cfg := mustLoad(t, validYAML)

	if cfg.Continuity.EpisodicCapacity != 50 {
		t.Errorf("episodic_capacity = %d", cfg.Continuity.EpisodicCapacity)
	}
	if cfg.Continuity.EpisodicTTLHours != 168 {
		t.Errorf("episodic_ttl_hours = %d", cfg.Continuity.EpisodicTTLHours)
	}
	if cfg.Continuity.SessionIdleHours != 4 {
		t.Errorf("session_idle_hours = %v", cfg.Continuity.SessionIdleHours)
	}
	if w := cfg.Continuity.Recall; w.VectorWeight != 0.7 || w.ImportanceWeight != 0.2 || w.RecencyWeight != 0.1 || w.DefaultDecay != 0.05 {
		t.Errorf("recall weights = %+v", w)
	}
	if cfg.Synthesis.TurnWindow != 10 || cfg.Synthesis.ImportanceFloor != 6 {
		t.Errorf("synthesis defaults = %+v", cfg.Synthesis)
	}
	if cfg.Executor.MaxRounds != 6 || cfg.Executor.ToolBudget != 5 || cfg.Executor.ToolTimeoutSeconds != 30 {
		t.Errorf("executor defaults = %+v", cfg.Executor)
	}
	if cfg.Voice.ContextRefreshSeconds != 120 || cfg.Voice.ContextRefreshTurns != 10 {
		t.Errorf("voice defaults = %+v", cfg.Voice)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("server:\n  listen_port: 8080\n"))
	if err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestLoadFromReaderRejectsMalformedYAML(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("server: [unclosed"))
	if err == nil {
		t.Fatal("malformed yaml accepted")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := map[string]struct {
		mutate  func(*Config)
		wantErr string
	}{
		"bad log level": {
			func(c *Config) { c.Server.LogLevel = "verbose" },
			"server.log_level",
		},
		"endpoint without model": {
			func(c *Config) { c.Models.Endpoints[0].Model = "" },
			"model is required",
		},
		"endpoint without provider": {
			func(c *Config) { c.Models.Endpoints[0].Provider.Name = "" },
			"provider.name is required",
		},
		"duplicate model": {
			func(c *Config) { c.Models.Endpoints[1].Model = "fast" },
			"duplicate",
		},
		"unknown default model": {
			func(c *Config) { c.Models.Default = "missing" },
			"models.default",
		},
		"voice enabled without provider": {
			func(c *Config) { c.Voice.Enabled = true },
			"voice.provider.name",
		},
		"bad encryption key encoding": {
			func(c *Config) { c.Redis.EncryptionKey = "not base64!!" },
			"base64",
		},
		"bad encryption key length": {
			func(c *Config) {
				c.Redis.EncryptionKey = base64.StdEncoding.EncodeToString([]byte("short"))
			},
			"16, 24, or 32",
		},
		"zero embedding dimensions": {
			func(c *Config) { c.Postgres.EmbeddingDimensions = -1 },
			"embedding_dimensions",
		},
		"negative episodic capacity": {
			func(c *Config) { c.Continuity.EpisodicCapacity = -1 },
			"episodic_capacity",
		},
		"drift threshold out of range": {
			func(c *Config) { c.Continuity.DriftThreshold = 1.5 },
			"drift_threshold",
		},
		"negative recall weight": {
			func(c *Config) { c.Continuity.Recall.VectorWeight = -0.1 },
			"recall weights",
		},
		"importance floor out of range": {
			func(c *Config) { c.Synthesis.ImportanceFloor = 11 },
			"importance_floor",
		},
		"ema alpha out of range": {
			func(c *Config) { c.Synthesis.EMAAlpha = 1.5 },
			"ema_alpha",
		},
		"mcp server without name": {
			func(c *Config) { c.MCP.Servers[0].Name = "" },
			"name is required",
		},
		"mcp bad transport": {
			func(c *Config) { c.MCP.Servers[0].Transport = "grpc" },
			"transport",
		},
		"mcp stdio without command": {
			func(c *Config) { c.MCP.Servers[0].Command = "" },
			"command is required",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := mustLoad(t, validYAML)
			tc.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("invalid config accepted")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := mustLoad(t, validYAML)
	cfg.Server.LogLevel = "verbose"
	cfg.Models.Endpoints[0].Model = ""
	cfg.Synthesis.ImportanceFloor = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	for _, want := range []string{"server.log_level", "model is required", "importance_floor"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestDecodeEncryptionKey(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	rc := RedisConfig{EncryptionKey: base64.StdEncoding.EncodeToString(key)}
	got, err := rc.DecodeEncryptionKey()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 32 || got[31] != 31 {
		t.Errorf("decoded key = %v", got)
	}

	empty := RedisConfig{}
	if got, err := empty.DecodeEncryptionKey(); err != nil || got != nil {
		t.Errorf("empty key = %v, %v", got, err)
	}

	bad := RedisConfig{EncryptionKey: "***"}
	if _, err := bad.DecodeEncryptionKey(); err == nil {
		t.Error("invalid base64 accepted")
	}
}

func TestLogLevelIsValid(t *testing.T) {
	for _, l := range []LogLevel{LogDebug, LogInfo, LogWarn, LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if LogLevel("trace").IsValid() {
		t.Error("trace should be invalid")
	}
}
