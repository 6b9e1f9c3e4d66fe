package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/s-p-a-r-r-o-w-ai/agent-bifrost/pkg/export"
	"github.com/s-p-a-r-r-o-w-ai/agent-bifrost/pkg/llm"
	"github.com/s-p-a-r-r-o-w-ai/agent-bifrost/pkg/logger"
	"github.com/s-p-a-r-r-o-w-ai/agent-bifrost/pkg/mcp"
	"github.com/s-p-a-r-r-o-w-ai/agent-bifrost/pkg/metrics"
	"github.com/s-p-a-r-r-o-w-ai/agent-bifrost/pkg/server"
	"github.com/s-p-a-r-r-o-w-ai/agent-bifrost/pkg/store"
	"github.com/s-p-a-r-r-o-w-ai/agent-bifrost/pkg/workflow"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
)

const (
	defaultListenAddr  = "0.0.0.0:8080"
	defaultMetricsAddr = "0.0.0.0:9090"
	defaultExportDir   = "exports"
	defaultModel       = string(anthropic.ModelClaudeHaiku4_5)
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "HTTP server listen address")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics")
	questionFlag := flag.String("question", "", "run one question from the command line and exit instead of serving")

	mcpEndpointFlag := flag.String("mcp-endpoint", "", "Platform MCP server URL (or set MCP_ENDPOINT env var)")
	mcpAPIKeyFlag := flag.String("mcp-api-key", "", "Platform MCP API key (or set MCP_API_KEY env var)")
	modelFlag := flag.String("model", defaultModel, "Anthropic model (or set ANTHROPIC_MODEL env var)")
	databaseURLFlag := flag.String("database-url", "", "Postgres DSN for run/session persistence; in-memory store when empty (or set DATABASE_URL env var)")
	exportDirFlag := flag.String("export-dir", defaultExportDir, "directory for CSV exports (or set EXPORT_DIR env var)")

	maxRetriesFlag := flag.Int("max-retries", workflow.DefaultMaxRetries, "maximum query repair cycles per run")
	previewRowsFlag := flag.Int("preview-rows", workflow.DefaultPreviewRowCap, "row cap for the model-facing preview execution")
	fullRowsFlag := flag.Int("full-rows", workflow.DefaultFullRowCeiling, "row ceiling for the export-facing full execution")
	csvThresholdFlag := flag.Int("csv-threshold", workflow.DefaultCSVRowThreshold, "row count above which results are exported to CSV")
	fallbackIndicesFlag := flag.Int("fallback-indices", workflow.DefaultFallbackIndexLimit, "maximum indices in the default selection fallback")

	flag.Parse()

	// Load .env file. godotenv does not override existing env vars, so
	// process env and explicit exports take precedence.
	_ = godotenv.Load()

	for env, dst := range map[string]*string{
		"MCP_ENDPOINT":    mcpEndpointFlag,
		"MCP_API_KEY":     mcpAPIKeyFlag,
		"ANTHROPIC_MODEL": modelFlag,
		"DATABASE_URL":    databaseURLFlag,
		"EXPORT_DIR":      exportDirFlag,
		"LISTEN_ADDR":     listenAddrFlag,
	} {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}

	log := logger.New(*verboseFlag)
	log.Info("starting agent-bifrost", "version", version, "commit", commit)

	if *mcpEndpointFlag == "" {
		return fmt.Errorf("--mcp-endpoint (or MCP_ENDPOINT) is required")
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			TracesSampleRate: 0.1,
		}); err != nil {
			log.Warn("failed to initialize sentry", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tools, err := mcp.Connect(ctx, mcp.Config{
		Endpoint: *mcpEndpointFlag,
		APIKey:   *mcpAPIKeyFlag,
	})
	if err != nil {
		return err
	}
	defer tools.Close()

	clock := clockwork.NewRealClock()
	exporter, err := export.NewCSV(*exportDirFlag, clock)
	if err != nil {
		return err
	}

	engine, err := workflow.New(&workflow.Config{
		Logger:             log,
		LLM:                llm.NewAnthropicClient(anthropic.Model(*modelFlag), llm.DefaultMaxTokens),
		Tools:              tools,
		Exporter:           exporter,
		MaxRetries:         *maxRetriesFlag,
		PreviewRowCap:      *previewRowsFlag,
		FullRowCeiling:     *fullRowsFlag,
		CSVRowThreshold:    *csvThresholdFlag,
		FallbackIndexLimit: *fallbackIndicesFlag,
	})
	if err != nil {
		return err
	}

	if *questionFlag != "" {
		return runOnce(ctx, engine, *questionFlag)
	}

	var st store.Store
	if *databaseURLFlag != "" {
		st, err = store.NewPostgres(ctx, log, *databaseURLFlag)
		if err != nil {
			return err
		}
	} else {
		log.Warn("no database configured, using in-memory store")
		st = store.NewMemory(clock)
	}
	defer st.Close()

	srv, err := server.New(server.Config{
		Logger:    log,
		Engine:    engine,
		Store:     st,
		ExportDir: exporter.Dir(),
	})
	if err != nil {
		return err
	}

	apiServer := &http.Server{
		Addr:              *listenAddrFlag,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              *metricsAddrFlag,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server listening", "addr", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("metrics server listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
		return apiServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// runOnce answers a single question and prints the result, for scripted use.
func runOnce(ctx context.Context, engine *workflow.Engine, question string) error {
	result, err := engine.Run(ctx, question)
	if err != nil {
		return err
	}
	fmt.Println(result.Answer)
	if result.Export != nil {
		fmt.Printf("\nExported %d rows to %s\n", result.Export.RowCount, result.Export.Path)
	}
	return nil
}
