package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/Enntity/cortex-sub003/internal/app"
	"github.com/Enntity/cortex-sub003/internal/config"
	"github.com/Enntity/cortex-sub003/internal/continuity"
	"github.com/Enntity/cortex-sub003/internal/entity"
	"github.com/Enntity/cortex-sub003/pkg/memory"
	"github.com/Enntity/cortex-sub003/pkg/memory/postgres"
	"github.com/Enntity/cortex-sub003/pkg/provider/embeddings"
)

// Maintenance subcommands. Exit codes: 0 on success, 1 for configuration
// or usage errors, 2 for runtime failures.
const cliUsage = `usage: cortex [command] [flags]

Commands:
  export-memories        write an entity's cold memories to a JSON file
  import-memories        load cold memories from a JSON file
  migrate-entities       upsert entity definitions from a bootstrap directory
  benchmark-continuity   time context-window assembly against live stores

Run without a command to start the server. Each command accepts -config
(default "config.yaml") plus its own flags; use "cortex <command> -h".
`

// exportLimit bounds how many nodes of one memory type a single export
// reads. Far above any realistic per-type population.
const exportLimit = 10000

// allMemoryTypes is the full cold-tier type partition, used to iterate an
// index that has no unfiltered listing.
var allMemoryTypes = []memory.MemoryType{
	memory.TypeCore, memory.TypeCapability, memory.TypeAnchor,
	memory.TypeArtifact, memory.TypeIdentity, memory.TypeExpression,
	memory.TypeValue, memory.TypeEpisode,
}

func runCommand(name string, args []string) int {
	switch name {
	case "export-memories":
		return runExportMemories(args)
	case "import-memories":
		return runImportMemories(args)
	case "migrate-entities":
		return runMigrateEntities(args)
	case "benchmark-continuity":
		return runBenchmarkContinuity(args)
	case "help":
		fmt.Print(cliUsage)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "cortex: unknown command %q\n\n%s", name, cliUsage)
		return 1
	}
}

// loadCLIConfig loads the config file and installs a logger, shared by all
// subcommands.
func loadCLIConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	return cfg, nil
}

// openColdIndex connects to the configured pgvector index. The embedder is
// built when configured so imported nodes without vectors get embedded; a
// nil embedder still allows export and filter reads.
func openColdIndex(ctx context.Context, cfg *config.Config) (*postgres.Index, error) {
	if cfg.Postgres.DSN == "" {
		return nil, errors.New("postgres.dsn is not configured")
	}

	var embedder embeddings.Provider
	if cfg.Embeddings.Name != "" {
		reg := config.NewRegistry()
		registerBuiltinProviders(reg)
		p, err := reg.CreateEmbeddings(cfg.Embeddings)
		if err != nil && !errors.Is(err, config.ErrProviderNotRegistered) {
			return nil, fmt.Errorf("create embeddings provider: %w", err)
		}
		embedder = p
	}

	return postgres.NewIndex(ctx, cfg.Postgres.DSN, embedder)
}

// ── export-memories ───────────────────────────────────────────────────────────

func runExportMemories(args []string) int {
	fs := flag.NewFlagSet("export-memories", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	entityID := fs.String("entity", "", "entity ID to export (required)")
	userID := fs.String("user", "", "user ID partition to export (required)")
	out := fs.String("out", "", "output file (default stdout)")
	fs.Parse(args)

	if *entityID == "" || *userID == "" {
		fmt.Fprintln(os.Stderr, "cortex export-memories: -entity and -user are required")
		return 1
	}

	cfg, err := loadCLIConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cortex: %v\n", err)
		return 1
	}

	ctx := context.Background()
	index, err := openColdIndex(ctx, cfg)
	if err != nil {
		slog.Error("failed to open cold index", "err", err)
		return 2
	}
	defer index.Close()

	var nodes []memory.Node
	for _, t := range allMemoryTypes {
		batch, err := index.GetByType(ctx, *entityID, *userID, t, exportLimit)
		if err != nil {
			slog.Error("failed to read memories", "type", t, "err", err)
			return 2
		}
		nodes = append(nodes, batch...)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Timestamp.Before(nodes[j].Timestamp)
	})

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			slog.Error("failed to create output file", "err", err)
			return 2
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(nodes); err != nil {
		slog.Error("failed to write export", "err", err)
		return 2
	}

	slog.Info("export complete", "entity", *entityID, "user", *userID, "memories", len(nodes))
	return 0
}

// ── import-memories ───────────────────────────────────────────────────────────

func runImportMemories(args []string) int {
	fs := flag.NewFlagSet("import-memories", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	in := fs.String("in", "", "input JSON file produced by export-memories (required)")
	fs.Parse(args)

	if *in == "" {
		fmt.Fprintln(os.Stderr, "cortex import-memories: -in is required")
		return 1
	}

	cfg, err := loadCLIConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cortex: %v\n", err)
		return 1
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cortex: %v\n", err)
		return 1
	}
	var nodes []memory.Node
	if err := json.Unmarshal(data, &nodes); err != nil {
		fmt.Fprintf(os.Stderr, "cortex: parse %s: %v\n", *in, err)
		return 1
	}

	ctx := context.Background()
	index, err := openColdIndex(ctx, cfg)
	if err != nil {
		slog.Error("failed to open cold index", "err", err)
		return 2
	}
	defer index.Close()

	imported := 0
	for _, n := range nodes {
		if !n.Type.IsValid() {
			slog.Warn("skipping node with unknown type", "id", n.ID, "type", n.Type)
			continue
		}
		if err := index.UpsertMemory(ctx, n); err != nil {
			slog.Error("failed to upsert memory", "id", n.ID, "err", err)
			return 2
		}
		imported++
	}

	slog.Info("import complete", "memories", imported, "skipped", len(nodes)-imported)
	return 0
}

// ── migrate-entities ──────────────────────────────────────────────────────────

func runMigrateEntities(args []string) int {
	fs := flag.NewFlagSet("migrate-entities", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	dir := fs.String("dir", "", "entity definition directory (default entities.bootstrap_dir)")
	fs.Parse(args)

	cfg, err := loadCLIConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cortex: %v\n", err)
		return 1
	}

	bootstrapDir := *dir
	if bootstrapDir == "" {
		bootstrapDir = cfg.Entities.BootstrapDir
	}
	if bootstrapDir == "" {
		fmt.Fprintln(os.Stderr, "cortex migrate-entities: no directory given and entities.bootstrap_dir is empty")
		return 1
	}
	if cfg.Postgres.DSN == "" {
		fmt.Fprintln(os.Stderr, "cortex migrate-entities: postgres.dsn is not configured")
		return 1
	}

	ctx := context.Background()
	store, err := entity.NewPGStore(ctx, cfg.Postgres.DSN)
	if err != nil {
		slog.Error("failed to connect entity store", "err", err)
		return 2
	}
	defer store.Close()

	n, err := entity.BootstrapDir(ctx, store, bootstrapDir)
	if err != nil {
		slog.Error("bootstrap failed", "dir", bootstrapDir, "err", err)
		return 2
	}

	slog.Info("migration complete", "dir", bootstrapDir, "entities", n)
	return 0
}

// ── benchmark-continuity ──────────────────────────────────────────────────────

func runBenchmarkContinuity(args []string) int {
	fs := flag.NewFlagSet("benchmark-continuity", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	entityID := fs.String("entity", "", "entity ID to benchmark (required)")
	userID := fs.String("user", "", "user ID partition (required)")
	query := fs.String("query", "how have things been going lately?", "probe query for drift detection")
	iterations := fs.Int("n", 20, "number of context builds to time")
	fs.Parse(args)

	if *entityID == "" || *userID == "" {
		fmt.Fprintln(os.Stderr, "cortex benchmark-continuity: -entity and -user are required")
		return 1
	}
	if *iterations < 2 {
		fmt.Fprintln(os.Stderr, "cortex benchmark-continuity: -n must be at least 2")
		return 1
	}

	cfg, err := loadCLIConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cortex: %v\n", err)
		return 1
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 2
	}

	ctx := context.Background()
	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 2
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			slog.Warn("shutdown error", "err", err)
		}
	}()

	svc := application.Continuity()

	// First build bypasses the active-context cache to measure a full
	// assembly; the remaining iterations measure the cached path.
	durations := make([]time.Duration, 0, *iterations)
	for i := 0; i < *iterations; i++ {
		opts := continuity.ContextOpts{SkipCache: i == 0}
		start := time.Now()
		if _, err := svc.GetContextWindow(ctx, *entityID, *userID, *query, opts); err != nil {
			slog.Error("context build failed", "iteration", i, "err", err)
			return 2
		}
		durations = append(durations, time.Since(start))
	}

	cold := durations[0]
	warm := durations[1:]
	var total time.Duration
	min, max := warm[0], warm[0]
	for _, d := range warm {
		total += d
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}

	fmt.Printf("context builds   : %d (1 cold + %d warm)\n", len(durations), len(warm))
	fmt.Printf("cold build       : %v\n", cold)
	fmt.Printf("warm min/avg/max : %v / %v / %v\n", min, total/time.Duration(len(warm)), max)
	return 0
}
