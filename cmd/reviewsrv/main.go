// Command reviewsrv runs the review coordination engine: a long-lived
// process that mediates a plan-review workflow between an autonomous coding
// agent (via the JSON-RPC Agent Tool Surface) and a human reviewer (via the
// HTTP Control Plane and the Subscriber Gateway's SSE stream).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/arctek/reviewsrv/agent"
	"github.com/arctek/reviewsrv/internal/gateway"
	"github.com/arctek/reviewsrv/internal/httpapi"
	"github.com/arctek/reviewsrv/internal/reviewaudit"
	"github.com/arctek/reviewsrv/review"
)

var (
	version   = "dev"
	gitCommit = "unknown"
	buildTime = "unknown"
)

func main() {
	var (
		dataRoot    = flag.String("data", "./reviewdata", "Root directory for review and audit storage")
		transport   = flag.String("transport", "stdio", "Agent Tool Surface transport: stdio or http")
		idleTimeout = flag.Duration("idle-timeout", httpapi.IdleTimeout, "Shut down after this long with no HTTP activity")
		verbose     = flag.Bool("verbose", false, "Enable debug-level logging")
		showVersion = flag.Bool("version", false, "Show version")
		status      = flag.Bool("status", false, "Show pending review status and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("reviewsrv %s (commit: %s, built: %s)\n", version, gitCommit, buildTime)
		os.Exit(0)
	}

	store := review.NewStore(*dataRoot)

	if *status {
		runStatus(store)
		return
	}

	// stdout is reserved for the readiness banner and, in stdio transport
	// mode, JSON-RPC frames -- all logging goes to stderr.
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	bus := review.NewBus()
	engine := review.NewEngine(store, bus)

	auditDB, err := reviewaudit.Open(*dataRoot + "/audit.db")
	if err != nil {
		logger.Error("failed to open audit store", "error", err)
		os.Exit(1)
	}
	defer auditDB.Close()
	engine.SetAuditor(auditDB)

	gw := gateway.New(bus, engine, logger)
	httpSrv := httpapi.NewServer(engine, gw, logger)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ln, port, err := httpapi.Listen()
	if err != nil {
		logger.Error("failed to bind control plane", "error", err)
		os.Exit(1)
	}
	httpSrv.OnIdleClose = cancel
	httpSrv.IdleTimeout = *idleTimeout

	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	agentSrv := agent.New(engine, logger)

	switch *transport {
	case "stdio":
		go runStdio(ctx, agentSrv, logger, cancel)
	case "http":
		httpSrv.MCPHandler = agentSrv.HTTPHandler()
		logger.Info("agent tool surface mounted at /mcp")
	default:
		fmt.Fprintf(os.Stderr, "unknown -transport %q (want stdio or http)\n", *transport)
		os.Exit(1)
	}

	go func() {
		if err := httpSrv.Serve(ln); err != nil {
			logger.Error("control plane stopped", "error", err)
		}
	}()

	// Readiness contract: the first line of stdout announces the bound
	// port so a launching process can discover it without scraping logs.
	fmt.Printf(`{"status":"ready","port":%d}`+"\n", port)

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during shutdown", "error", err)
	}
	logger.Info("shutdown complete")
}

func runStdio(ctx context.Context, agentSrv *agent.Server, logger *slog.Logger, cancel context.CancelFunc) {
	defer cancel()
	if err := agentSrv.ServeStdio(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		logger.Error("stdio transport stopped", "error", err)
	}
}

// runStatus prints a one-shot summary of the pending reviews in the global
// (un-partitioned) namespace, for operators checking in without a browser.
// Reviews stored under a project path are not listed.
func runStatus(store *review.Store) {
	titleCaser := cases.Title(language.English)

	reviews, err := store.ListPending("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading review store: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== Review Status ===")
	fmt.Println()
	if len(reviews) == 0 {
		fmt.Println("No pending reviews.")
		return
	}
	for _, r := range reviews {
		fmt.Printf("  [%s] %s  (%s, %d comment(s), %d unresolved)\n",
			r.ID, titleCaser.String(string(r.Status)), r.CreatedAt.Format(time.RFC3339),
			len(r.Comments), len(r.UnresolvedComments()))
	}
}
