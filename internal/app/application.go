package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"classrelay/internal/api"
	"classrelay/internal/config"
	"classrelay/internal/feedback"
	"classrelay/internal/ingest"
	"classrelay/internal/judge"
	"classrelay/internal/llm"
	"classrelay/internal/session"
	"classrelay/internal/store"
	"classrelay/internal/ws"
)

// Application wires and owns all system components.
type Application struct {
	config     *config.Config
	store      *store.Manager
	registry   *session.Registry
	pipeline   *ingest.Pipeline
	apiServer  *api.Server
	httpServer *http.Server
}

// NewApplication initializes components in dependency order:
// store, registry, LLM client, judge, composer, pipeline, transport, HTTP.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	storeManager, err := store.NewManager(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	registry := session.NewRegistry()

	llmClient := llm.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	roomJudge := judge.New(storeManager, llmClient)
	composer := feedback.New(storeManager, llmClient)

	pipeline := ingest.NewPipeline(storeManager, roomJudge, composer, registry, cfg.Chat.BufferThreshold)

	wsHandler := ws.NewHandler(registry, storeManager, pipeline)
	apiServer := api.NewServer(storeManager, storeManager, composer, storeManager)

	mux := http.NewServeMux()
	mux.Handle("/", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      storeManager,
		registry:   registry,
		pipeline:   pipeline,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start launches the HTTP server and verifies it came up before returning.
func (app *Application) Start(ctx context.Context) error {
	logrus.WithField("addr", app.httpServer.Addr).Info("starting classrelay")

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		logrus.Info("classrelay started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts components down in reverse order: HTTP first so no new work
// arrives, then the store.
func (app *Application) Stop(ctx context.Context) error {
	logrus.Info("shutting down classrelay")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("HTTP server shutdown error")
	}
	if err := app.store.Close(); err != nil {
		logrus.WithError(err).Warn("store shutdown error")
	}

	logrus.Info("classrelay shutdown complete")
	return nil
}

// Addr returns the address the HTTP server listens on.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
