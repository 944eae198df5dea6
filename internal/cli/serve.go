package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wintermoss/caremate/internal/auth"
	"github.com/wintermoss/caremate/internal/config"
	"github.com/wintermoss/caremate/internal/digest"
	"github.com/wintermoss/caremate/internal/ledger"
	"github.com/wintermoss/caremate/internal/llm"
	"github.com/wintermoss/caremate/internal/memory"
	"github.com/wintermoss/caremate/internal/notify"
	"github.com/wintermoss/caremate/internal/scheduler"
	"github.com/wintermoss/caremate/internal/server"
	"github.com/wintermoss/caremate/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// An API key in the environment selects anthropic even when the
	// provider was left at its default.
	if cfg.LLM.AnthropicKey != "" && cfg.LLM.Provider == "ollama" {
		cfg.LLM.Provider = "anthropic"
	}

	// Resolve database path
	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var llmClient llm.Client
	if client, err := llm.NewClient(cfg.LLM); err != nil {
		fmt.Fprintf(os.Stderr, "warning: LLM not configured (%v), using fallback replies\n", err)
	} else {
		llmClient = client
		fmt.Fprintf(os.Stderr, "  llm: %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
	}

	authSvc := auth.NewService(db, cfg.Auth.TokenTTLDays, cfg.Auth.TokenBytes)
	led := ledger.NewService(db, cfg.Memory.WindowDays, cfg.Memory.MaxContentLen)
	mem := memory.NewService(db, led, llmClient, cfg.Memory.RefreshHours, cfg.Memory.WindowDays, cfg.Memory.MaxMessages)
	dig := digest.NewService(db, led, llmClient, cfg.Memory.SummaryDays)

	var notifier notify.Notifier
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.Notify.WebhookURL)
		fmt.Fprintf(os.Stderr, "  notify: webhook (%s)\n", cfg.Notify.WebhookURL)
	} else {
		notifier = notify.LogNotifier{}
	}

	var sched *scheduler.Service
	if cfg.Scheduler.Enabled {
		sched = scheduler.NewService(db, scheduler.NewRunner(), led, dig, notifier)
		if err := sched.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	srv := server.New(db, authSvc, led, mem, llmClient, sched, cfg, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "caremate serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", dbPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
