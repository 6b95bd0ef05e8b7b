package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/aliado-ai-platform/cmd/mainconfig"
	"github.com/wolfman30/aliado-ai-platform/internal/api/router"
	"github.com/wolfman30/aliado-ai-platform/internal/app/bootstrap"
	appconfig "github.com/wolfman30/aliado-ai-platform/internal/config"
	"github.com/wolfman30/aliado-ai-platform/internal/http/handlers"
	"github.com/wolfman30/aliado-ai-platform/pkg/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	mainconfig.LoadEnv()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api server failed", "error", err)
		os.Exit(1)
	}
	fmt.Println("Server exited gracefully")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	logger.Info("starting aliado WhatsApp backend",
		"env", cfg.Env,
		"port", cfg.Port,
	)
	if cfg.WhatsAppVerifyToken == "" {
		logger.Warn("WHATSAPP_VERIFY_TOKEN is empty; webhook verification will always fail")
	}
	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET is empty; admin endpoints reject every request")
	}

	var awsCfg *aws.Config
	if mainconfig.NeedsAWS(cfg) {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return err
		}
		awsCfg = &loaded
	}

	llm, llmCloser, err := bootstrap.BuildLLMClient(ctx, cfg, awsCfg, logger)
	if err != nil {
		return err
	}
	pg, err := bootstrap.BuildPostgres(ctx, cfg, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pipeline, err := bootstrap.BuildPipeline(cfg, bootstrap.Deps{
		AWS:        awsCfg,
		Redis:      bootstrap.BuildRedisClient(ctx, cfg, logger, true),
		Postgres:   pg,
		LLM:        llm,
		Email:      bootstrap.BuildEmailSender(cfg, awsCfg, logger),
		Registerer: registry,
		Closers:    []io.Closer{llmCloser},
	}, logger)
	if err != nil {
		pg.Close()
		_ = llmCloser.Close()
		return err
	}

	workCtx, cancelWork := context.WithCancel(context.Background())
	pipeline.Start(workCtx, pipeline.InProcessQueue() || cfg.EmbeddedWorkers)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(cfg, pipeline, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server...")
	case err = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error("server forced to shutdown", "error", shutdownErr)
	}

	// Stop consuming only after the listener has drained in-flight webhooks.
	cancelWork()
	pipeline.Wait()
	pipeline.Close()
	logger.Info("server stopped")
	return err
}

func newRouter(cfg *appconfig.Config, p *bootstrap.Pipeline, metricsHandler http.Handler, logger *logging.Logger) http.Handler {
	admin := handlers.NewAdminHandler(p.Processor, p.Delivery, logger)
	if p.Transcript != nil {
		admin.WithTranscript(p.Transcript)
	}
	if p.Audit != nil {
		admin.WithAudit(p.Audit)
	}

	return router.New(&router.Config{
		Logger:             logger,
		Webhook:            p.Webhook,
		Bots:               handlers.NewBotsHandler(p.Bots, cfg.PublicBaseURL, cfg.WhatsAppVerifyToken, logger),
		Health:             handlers.NewHealthHandler(p.Bots, logger),
		Admin:              admin,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		SendLimiter:        p.SendLimiter,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})
}
