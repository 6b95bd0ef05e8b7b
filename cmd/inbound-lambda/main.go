// Command inbound-lambda processes inbound WhatsApp jobs delivered to AWS
// Lambda by an SQS event source mapping, as an alternative to running
// cmd/conversation-worker. Configure the mapping with ReportBatchItemFailures.
//
// Work scheduled to run after an invocation returns is best-effort here: the
// deferred delivery queue and the delayed greeting options prompt live in
// process memory and only fire if Lambda thaws the same execution environment
// again before it is recycled. Deployments that need guaranteed deferred
// retries should run cmd/conversation-worker instead.
package main

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/aliado-ai-platform/cmd/mainconfig"
	"github.com/wolfman30/aliado-ai-platform/internal/app/bootstrap"
	appconfig "github.com/wolfman30/aliado-ai-platform/internal/config"
	"github.com/wolfman30/aliado-ai-platform/internal/conversation"
	"github.com/wolfman30/aliado-ai-platform/pkg/logging"
)

type jobHandler interface {
	HandleJob(ctx context.Context, body string) error
}

type handler struct {
	jobs   jobHandler
	logger *logging.Logger
}

// handle processes every record. Records are reported as failed only when the
// invocation ran out of time before reaching them; everything else has
// already been answered or can never succeed.
func (h *handler) handle(ctx context.Context, evt events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range evt.Records {
		if ctx.Err() != nil {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
			continue
		}
		err := h.jobs.HandleJob(ctx, rec.Body)
		switch {
		case err == nil:
		case errors.Is(err, conversation.ErrInvalidJob):
			h.logger.Error("dropping inbound job", "error", err, "sqs_message_id", rec.MessageId)
		default:
			h.logger.Error("inbound job failed", "error", err, "sqs_message_id", rec.MessageId)
		}
	}
	if n := len(resp.BatchItemFailures); n > 0 {
		h.logger.Warn("returning unprocessed jobs to the queue", "count", n)
	}
	return resp, nil
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	llm, llmCloser, err := bootstrap.BuildLLMClient(ctx, cfg, &awsCfg, logger)
	if err != nil {
		logger.Error("failed to build llm client", "error", err)
		os.Exit(1)
	}
	pg, err := bootstrap.BuildPostgres(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
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
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	h := &handler{jobs: pipeline.Worker, logger: logger}
	lambda.Start(h.handle)
}
