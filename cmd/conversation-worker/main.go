// Command conversation-worker consumes inbound WhatsApp jobs from SQS so the
// API can run with EMBEDDED_WORKERS=false and scale consumers separately.
package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/aliado-ai-platform/cmd/mainconfig"
	"github.com/wolfman30/aliado-ai-platform/internal/app/bootstrap"
	appconfig "github.com/wolfman30/aliado-ai-platform/internal/config"
	"github.com/wolfman30/aliado-ai-platform/pkg/logging"
)

const shutdownTimeout = 30 * time.Second

var errMemoryQueue = errors.New("conversation-worker: INBOUND_QUEUE_URL must point at SQS with USE_MEMORY_QUEUE=false")

func main() {
	mainconfig.LoadEnv()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("conversation worker failed", "error", err)
		os.Exit(1)
	}
}

func checkConfig(cfg *appconfig.Config) error {
	if cfg.UseMemoryQueue || cfg.InboundQueueURL == "" {
		return errMemoryQueue
	}
	return nil
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	if err := checkConfig(cfg); err != nil {
		return err
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return err
	}
	llm, llmCloser, err := bootstrap.BuildLLMClient(ctx, cfg, &awsCfg, logger)
	if err != nil {
		return err
	}
	pg, err := bootstrap.BuildPostgres(ctx, cfg, logger)
	if err != nil {
		return err
	}

	pipeline, err := bootstrap.BuildPipeline(cfg, bootstrap.Deps{
		AWS:        &awsCfg,
		Redis:      bootstrap.BuildRedisClient(ctx, cfg, logger, true),
		Postgres:   pg,
		LLM:        llm,
		Email:      bootstrap.BuildEmailSender(cfg, &awsCfg, logger),
		Registerer: prometheus.NewRegistry(),
		Closers:    []io.Closer{llmCloser},
	}, logger)
	if err != nil {
		pg.Close()
		_ = llmCloser.Close()
		return err
	}

	workCtx, cancel := context.WithCancel(context.Background())
	pipeline.Start(workCtx, true)
	logger.Info("conversation worker started", "queue_url", cfg.InboundQueueURL, "workers", cfg.WorkerCount)

	<-ctx.Done()
	logger.Info("shutting down conversation worker...")
	cancel()

	waitCh := make(chan struct{})
	go func() {
		pipeline.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("conversation worker stopped")
	case <-time.After(shutdownTimeout):
		logger.Error("conversation worker shutdown timed out")
	}
	pipeline.Close()
	return nil
}
