package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vango-go/callcoach/pkg/gateway/config"
	"github.com/vango-go/callcoach/pkg/gateway/handlers"
	"github.com/vango-go/callcoach/pkg/gateway/metrics"
	gatewayserver "github.com/vango-go/callcoach/pkg/gateway/server"
	"github.com/vango-go/callcoach/pkg/store"
)

type serveDeps struct {
	loadConfig    func() (config.Config, error)
	openStore     func(context.Context, config.Config, *slog.Logger) (store.Store, error)
	buildPipeline func(context.Context, config.Config, store.Store, *slog.Logger) (handlers.Pipeline, error)
	newGateway    func(config.Config, *slog.Logger, gatewayserver.Deps) *gatewayserver.Server
	signalNotify  func(chan<- os.Signal, ...os.Signal)
	signalStop    func(chan<- os.Signal)
}

func defaultServeDeps() serveDeps {
	return serveDeps{
		loadConfig:    config.LoadFromEnv,
		openStore:     openStore,
		buildPipeline: buildPipeline,
		newGateway:    gatewayserver.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// openStore selects Postgres when a database URL is configured and the
// in-memory store otherwise.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("no database configured, using in-memory store")
		return store.NewMemory(), nil
	}
	pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL, int32(cfg.DatabaseMaxConns))
	if err != nil {
		return nil, err
	}
	return pg, nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

type serveOptions struct {
	migrate bool
}

func runServe(ctx context.Context, logw io.Writer, opts serveOptions, deps serveDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.openStore == nil || deps.buildPipeline == nil {
		return errors.New("missing pipeline dependency")
	}
	if deps.newGateway == nil {
		return errors.New("missing newGateway dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(logw, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	if opts.migrate && cfg.DatabaseURL != "" {
		if err := store.Migrate(ctx, cfg.DatabaseURL, store.MigrateUp, logger); err != nil {
			return err
		}
	}

	st, err := deps.openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	// In-flight transcription and suggestion work may finish after its
	// connection closes; it is only cut off once draining gives up.
	pipelineCtx, cancelPipeline := context.WithCancel(context.Background())
	defer cancelPipeline()

	pipeline, err := deps.buildPipeline(pipelineCtx, cfg, st, logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	gw := deps.newGateway(cfg, logger, gatewayserver.Deps{
		Store:       st,
		Pipeline:    pipeline,
		Metrics:     metrics.New("callcoach"),
		PipelineCtx: pipelineCtx,
	})
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	heartbeatCtx, stopHeartbeat := context.WithCancel(context.Background())
	defer stopHeartbeat()
	go gw.RunHeartbeat(heartbeatCtx)

	logger.Info("starting gateway",
		"addr", cfg.Addr,
		"auth_mode", cfg.AuthMode,
		"stt_provider", cfg.STTProvider,
		"llm_provider", cfg.LLMProvider,
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()
	warned := gw.WarnLiveSessionsDraining()
	logger.Info("draining live sessions", "live_sessions", warned)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitLiveSessions(waitCtx) {
		canceled := gw.CancelLiveSessions()
		logger.Warn("grace period elapsed, closing live sessions", "live_sessions", canceled)
	}
	stopHeartbeat()
	cancelPipeline()

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}
