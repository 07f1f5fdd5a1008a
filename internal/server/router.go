// SPDX-License-Identifier: AGPL-3.0-or-later
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/assistd-org/assistd/internal/commandgen"
	"github.com/assistd-org/assistd/internal/coredb"
	"github.com/assistd-org/assistd/internal/events"
	"github.com/assistd-org/assistd/internal/execengine"
	"github.com/assistd-org/assistd/internal/llm"
	"github.com/assistd-org/assistd/internal/orchestrator"
	"github.com/assistd-org/assistd/internal/paths"
	"github.com/assistd-org/assistd/internal/safety"
	"github.com/assistd-org/assistd/internal/server/handlers"
	"github.com/assistd-org/assistd/internal/server/sse"
)

// Run boots the HTTP server until the context is canceled or an unrecoverable error occurs.
func Run(ctx context.Context, cfg Config) error {
	if cfg.DataDir != "" {
		paths.SetDataDirOverride(cfg.DataDir)
	}
	norm := cfg.normalize()
	paths.SetDataDirOverride(norm.DataDir)

	db, err := coredb.Open(ctx, norm.CoreDBOptions)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	norm.CoreDB = db

	logger := newLogger(norm)
	if norm.Token == "" && !isLoopbackAddress(norm.Bind) {
		logger.Warn("serving without a token on a non-loopback address", slog.String("bind", norm.Bind))
	}

	hub := sse.New(sse.Config{})
	journal := coredb.NewJournal(db, norm.CoreDBOptions.JournalMaxBytes)
	planStore := coredb.NewPlanStore(db)

	orch := norm.Orchestrator
	if orch == nil {
		orch, err = assembleOrchestrator(norm, logger, hub, journal, planStore)
		if err != nil {
			return err
		}
	}

	server := &http.Server{
		Addr:    norm.Bind,
		Handler: buildHandler(norm, orch, hub, journal, planStore),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), norm.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// assembleOrchestrator wires the plan pipeline: LLM planner, safety checker,
// template-backed command generation with LLM fallback, the execution engine
// and the journal-backed event sink.
func assembleOrchestrator(cfg Config, logger *slog.Logger, hub *sse.Hub, journal *coredb.Journal, planStore *coredb.PlanStore) (*orchestrator.Orchestrator, error) {
	client, err := llm.New(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}

	var checker *safety.Checker
	if cfg.RulesPath != "" {
		checker, err = safety.LoadFile(cfg.RulesPath)
		if err != nil {
			return nil, fmt.Errorf("load safety rules: %w", err)
		}
		logger.Info("safety rules loaded", slog.String("path", cfg.RulesPath))
	} else {
		var rulesPath string
		checker, rulesPath, err = safety.LoadFromEnvOrDefault()
		if err != nil {
			return nil, fmt.Errorf("load safety rules: %w", err)
		}
		logger.Info("safety rules loaded", slog.String("path", rulesPath))
	}

	var table *commandgen.Table
	if cfg.TemplatesPath != "" {
		table, err = commandgen.LoadFile(cfg.TemplatesPath)
		if err != nil {
			return nil, fmt.Errorf("load command templates: %w", err)
		}
	} else {
		table, _, err = commandgen.LoadFromEnvOrDefault()
		if err != nil {
			return nil, fmt.Errorf("load command templates: %w", err)
		}
	}

	sink := handlers.NewJournalSink(journal, hub, logger)
	return orchestrator.New(orchestrator.Config{
		Planner:        client,
		Generator:      commandgen.New(table, client),
		Checker:        checker,
		Runner:         execengine.New(),
		Emitter:        events.NewEmitter(sink),
		Store:          planStore,
		Logger:         logger,
		CommandTimeout: cfg.CommandTimeout,
		VerifyResults:  cfg.VerifyResults,
	}), nil
}

func buildHandler(cfg Config, orch *orchestrator.Orchestrator, hub *sse.Hub, journal *coredb.Journal, planStore *coredb.PlanStore) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusNoContent)
	})
	mux.Handle("/health/storage", handlers.NewStorageHealthHandler(cfg.CoreDB))

	mux.Handle("/tasks", handlers.NewTasksHandler(handlers.TasksConfig{
		Service:     orch,
		Idempotency: coredb.NewIdempotencyStore(cfg.CoreDB),
	}))

	plansCfg := handlers.PlansConfig{Service: orch, Archive: planStore}
	planHandler := handlers.NewPlanHandler(plansCfg)
	planEvents := handlers.NewPlanEventsHandler(hub, journal)
	mux.Handle("/plans", handlers.NewPlanListHandler(plansCfg))
	mux.Handle("/plans/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/events") {
			planEvents.ServeHTTP(w, r)
			return
		}
		planHandler.ServeHTTP(w, r)
	}))
	mux.Handle("/commands/", handlers.NewCommandConfirmHandler(orch))

	return chainMiddleware(mux,
		loggingMiddleware(cfg),
		corsMiddleware(cfg),
		authMiddleware(cfg),
	)
}
