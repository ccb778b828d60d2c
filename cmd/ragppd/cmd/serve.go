package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ragpp/ragpp/internal/config"
	"github.com/ragpp/ragpp/internal/factstore"
	"github.com/ragpp/ragpp/internal/httpapi"
	"github.com/ragpp/ragpp/internal/judge"
	"github.com/ragpp/ragpp/internal/logging"
	"github.com/ragpp/ragpp/internal/metastore"
	"github.com/ragpp/ragpp/internal/metrics"
	"github.com/ragpp/ragpp/internal/pipeline"
	"github.com/ragpp/ragpp/internal/rerank"
	"github.com/ragpp/ragpp/internal/solver"
	"github.com/ragpp/ragpp/internal/vectorindex"
	"github.com/ragpp/ragpp/pkg/capability"
	"github.com/ragpp/ragpp/pkg/capability/ollama"
	"github.com/ragpp/ragpp/pkg/capability/stub"
)

func newServeCmd() *cobra.Command {
	var dataDir, logFile string
	var logToStderr bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the RAG++ core's HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runServe(cmd.Context(), configDir, dataDir, logFile, logToStderr)
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", ".", "directory for the index snapshot and metadata database")
	cmd.Flags().StringVar(&logFile, "log-file", logging.DefaultLogPath(), "path to the rotating JSON log file ('' disables file logging)")
	cmd.Flags().BoolVar(&logToStderr, "log-stderr", true, "also write logs to stderr")
	return cmd
}

func runServe(ctx context.Context, configDir, dataDir, logFile string, logToStderr bool) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return withExitCode(ExitConfigError, fmt.Errorf("load config: %w", err))
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Server.LogLevel
	logCfg.FilePath = logFile
	logCfg.WriteToStderr = logToStderr

	var logger *slog.Logger
	if logFile == "" {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logging.LevelFromString(cfg.Server.LogLevel)}))
	} else {
		var cleanup func()
		logger, cleanup, err = logging.Setup(logCfg)
		if err != nil {
			return withExitCode(ExitGeneric, fmt.Errorf("set up logging: %w", err))
		}
		defer cleanup()
	}

	app, err := buildApp(ctx, cfg, dataDir, logger)
	if err != nil {
		return withExitCode(exitCodeForBuildErr(err), err)
	}

	server := httpapi.New(app, logger)

	ln, err := net.Listen("tcp", cfg.Server.Address)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return withExitCode(ExitAddressInUse, fmt.Errorf("listen on %s: %w", cfg.Server.Address, err))
		}
		return withExitCode(ExitGeneric, fmt.Errorf("listen on %s: %w", cfg.Server.Address, err))
	}

	httpServer := &http.Server{Handler: server}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving", "address", cfg.Server.Address)
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return withExitCode(ExitGeneric, err)
		}
		return nil
	}
}

func exitCodeForBuildErr(err error) int {
	if errors.Is(err, errSnapshotLoad) {
		return ExitSnapshotLoadFailed
	}
	return ExitGeneric
}

var errSnapshotLoad = errors.New("snapshot load failed")

// buildEmbedder constructs the capability.Embedder named by
// cfg.Embedder.Provider. The language model stays the deterministic stub
// regardless of provider: no LLM vendor adapter is in scope for this core.
func buildEmbedder(ctx context.Context, cfg *config.Config, logger *slog.Logger) (capability.Embedder, error) {
	switch strings.ToLower(cfg.Embedder.Provider) {
	case "", "stub":
		return stub.NewEmbedder(cfg.Index.Dimension), nil
	case "ollama":
		// The Ollama server is an external collaborator (spec §1): this
		// core calls it over HTTP but never starts, stops, or manages its
		// process. ollama.New probes /api/tags itself and returns a clear
		// UPSTREAM error if no server is reachable at cfg.Embedder.Host.
		e, err := ollama.New(ctx, ollama.Config{
			Host:       cfg.Embedder.Host,
			Model:      cfg.Embedder.Model,
			Dimensions: cfg.Index.Dimension,
		})
		if err != nil {
			return nil, fmt.Errorf("construct ollama embedder: %w", err)
		}
		logger.Info("using ollama embedder", "model", e.ModelName(), "dimensions", e.Dimensions())
		return e, nil
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", cfg.Embedder.Provider)
	}
}

// buildApp constructs every component and wires them into a pipeline.App.
// The language model is the deterministic, network-free stub
// implementation: no LLM vendor adapter is in scope for this core (see
// pkg/capability).
func buildApp(ctx context.Context, cfg *config.Config, dataDir string, logger *slog.Logger) (*pipeline.App, error) {
	indexCfg := vectorindex.Config{
		Dimension:      cfg.Index.Dimension,
		Capacity:       cfg.Index.Capacity,
		Fanout:         cfg.Index.Fanout,
		EfConstruction: cfg.Index.EfConstruction,
		EfSearch:       cfg.Index.EfSearch,
		Space:          vectorindex.Space(cfg.Index.Space),
		Seed:           cfg.Index.Seed,
	}

	snapshotPath := cfg.Index.SnapshotPath
	if snapshotPath == "" {
		snapshotPath = filepath.Join(dataDir, "index.snapshot")
	}

	var index *vectorindex.Index
	if _, statErr := os.Stat(snapshotPath); statErr == nil {
		loaded, err := vectorindex.Load(snapshotPath, indexCfg)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", errSnapshotLoad, err)
		}
		index = loaded
		logger.Info("loaded index snapshot", "path", snapshotPath, "documents", index.Count())
	} else {
		ix, err := vectorindex.New(indexCfg)
		if err != nil {
			return nil, fmt.Errorf("construct index: %w", err)
		}
		index = ix
	}

	sqlitePath := filepath.Join(dataDir, "metadata.db")
	backend, err := metastore.NewSQLiteBackend(sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("open metadata database: %w", err)
	}
	meta, err := metastore.New(ctx, backend)
	if err != nil {
		return nil, fmt.Errorf("load metadata store: %w", err)
	}

	facts, err := factstore.New(factstore.Config{
		Dimension:  cfg.Index.Dimension,
		Capacity:   cfg.Cache.Capacity,
		TauCache:   cfg.Cache.TauCache,
		TauFuzzy:   cfg.Cache.TauFuzzy,
		Alpha:      cfg.Cache.Alpha,
		Beta:       cfg.Cache.Beta,
		HotSetSize: cfg.Cache.HotSetSize,
	})
	if err != nil {
		return nil, fmt.Errorf("construct facts store: %w", err)
	}

	embedder, err := buildEmbedder(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	llm := stub.NewLanguageModel()
	var reranker rerank.Reranker = rerank.NewLexicalBlendReranker(0.3)

	solverPool, err := solver.New(solver.Config{
		NSolvers:     cfg.Solver.NSolvers,
		TSolver:      cfg.Timeouts.Solver,
		TPool:        cfg.Timeouts.Pool,
		Temperatures: cfg.Solver.Temperatures,
	}, llm)
	if err != nil {
		return nil, fmt.Errorf("construct solver pool: %w", err)
	}

	jdg := judge.New(embedder)
	reg := metrics.New()
	reg.SetDocuments(meta.Count())
	reg.SetCacheSize(facts.Stats().Count)

	cfg.Timeouts.Embed = nonZeroOr(cfg.Timeouts.Embed, 5*time.Second)
	cfg.Timeouts.Search = nonZeroOr(cfg.Timeouts.Search, 2*time.Second)
	cfg.Timeouts.Request = nonZeroOr(cfg.Timeouts.Request, 30*time.Second)

	return pipeline.New(cfg, index, meta, facts, reranker, embedder, solverPool, jdg, reg), nil
}

func nonZeroOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
