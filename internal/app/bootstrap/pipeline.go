package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/aliado-ai-platform/internal/archive"
	"github.com/wolfman30/aliado-ai-platform/internal/audit"
	"github.com/wolfman30/aliado-ai-platform/internal/bots"
	"github.com/wolfman30/aliado-ai-platform/internal/channels/whatsapp"
	"github.com/wolfman30/aliado-ai-platform/internal/clock"
	appconfig "github.com/wolfman30/aliado-ai-platform/internal/config"
	"github.com/wolfman30/aliado-ai-platform/internal/conversation"
	"github.com/wolfman30/aliado-ai-platform/internal/events"
	httpmiddleware "github.com/wolfman30/aliado-ai-platform/internal/http/middleware"
	"github.com/wolfman30/aliado-ai-platform/internal/notify"
	"github.com/wolfman30/aliado-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/aliado-ai-platform/pkg/logging"
)

const (
	memoryQueueBuffer     = 256
	processedRetention    = 7 * 24 * time.Hour
	processedPurgeEvery   = time.Hour
	abandonAuditTimeout   = 5 * time.Second
	archiveTimeout        = 10 * time.Second
	testSendRatePerSecond = 1.0
	testSendBurst         = 5
)

// Deps carries the external clients a Pipeline is built on. Nil fields
// disable the component that needs them.
type Deps struct {
	AWS        *aws.Config
	Redis      *redis.Client
	Postgres   *Postgres
	LLM        conversation.LLMClient
	Email      notify.EmailSender
	Registerer prometheus.Registerer
	Clock      clock.Clock
	HTTPClient *http.Client
	Closers    []io.Closer
}

type processedStore interface {
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// Pipeline is the wired message-processing stack behind the HTTP API.
type Pipeline struct {
	Bots        bots.Repository
	Delivery    *whatsapp.DeliveryManager
	Store       *conversation.ContextStore
	Generator   *conversation.ReplyGenerator
	Processor   *conversation.Processor
	Publisher   *conversation.Publisher
	Worker      *conversation.Worker
	Webhook     *whatsapp.WebhookHandler
	Transcript  *conversation.TranscriptStore
	Audit       *audit.Service
	Archive     *archive.Store
	Notifier    *notify.HandoffNotifier
	SendLimiter *httpmiddleware.RateLimiter

	cfg       *appconfig.Config
	logger    *logging.Logger
	clock     clock.Clock
	processed processedStore
	inProcess bool
	purger    *events.ProcessedStore
	closers   []io.Closer

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// BuildPipeline wires every pipeline component from cfg and deps.
func BuildPipeline(cfg *appconfig.Config, deps Deps, logger *logging.Logger) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}

	p := &Pipeline{cfg: cfg, logger: logger, clock: clk, closers: deps.Closers}

	repo, err := buildBotRepository(cfg, deps.AWS, logger)
	if err != nil {
		return nil, err
	}
	p.Bots = repo

	deliveryMetrics := metrics.NewDeliveryMetrics(deps.Registerer)
	pipelineMetrics := metrics.NewPipelineMetrics(deps.Registerer)

	clientOpts := []whatsapp.ClientOption{
		whatsapp.WithGraphAPIBase(cfg.WhatsAppGraphBaseURL),
		whatsapp.WithTimeout(cfg.WhatsAppSendTimeout),
	}
	if deps.HTTPClient != nil {
		clientOpts = append(clientOpts, whatsapp.WithHTTPClient(deps.HTTPClient))
	}
	p.Delivery = whatsapp.NewDeliveryManager(whatsapp.NewClient(clientOpts...), clk, logger).
		WithMaxAttempts(cfg.WhatsAppMaxAttempts).
		WithBaseDelay(cfg.WhatsAppRetryBaseDelay).
		WithMetrics(deliveryMetrics)
	p.Delivery.Queue().
		WithFirstDelay(cfg.DeferredFirstDelay).
		WithRetryDelay(cfg.DeferredRetryDelay).
		WithMaxRetries(cfg.DeferredMaxRetries).
		WithMaxAge(cfg.DeferredMaxAge)

	p.Store = conversation.NewContextStore(clk, logger).WithTTL(cfg.ConversationTTL)
	if bucket := strings.TrimSpace(cfg.ArchiveBucket); bucket != "" {
		if deps.AWS == nil {
			return nil, fmt.Errorf("bootstrap: archive bucket %q configured without aws config", bucket)
		}
		p.Archive = archive.NewStore(s3.NewFromConfig(*deps.AWS), bucket, logger)
		p.Store.WithExpireHook(p.archiveExpired)
	}
	p.Generator = conversation.NewReplyGenerator(deps.LLM, logger).
		WithTimeout(cfg.AITimeout).
		WithClock(clk).
		WithMetrics(pipelineMetrics)

	p.Processor = conversation.NewProcessor(p.Store, p.Generator, p.Delivery, logger).
		WithClock(clk).
		WithMetrics(pipelineMetrics).
		WithReadReceipts(cfg.MarkMessagesAsRead).
		WithDefaultCredentials(whatsapp.Credentials{
			AccessToken:   cfg.WhatsAppAccessToken,
			PhoneNumberID: cfg.WhatsAppPhoneNumberID,
		})

	if p.Transcript = conversation.NewTranscriptStore(deps.Redis, cfg.ConversationTTL*4); p.Transcript != nil {
		p.Processor.WithTranscript(p.Transcript)
	}

	if deps.Email != nil {
		p.Notifier = notify.NewHandoffNotifier(deps.Email, cfg.HandoffNotifyEmail, logger)
		p.Processor.WithHandoffNotifier(p.Notifier)
	}

	if deps.Postgres != nil {
		p.Audit = audit.NewService(deps.Postgres.DB)
		p.Processor.WithHandoffAuditor(p.Audit)
		p.Delivery.Queue().WithAbandonHook(p.auditAbandoned)
		p.purger = events.NewProcessedStore(deps.Postgres.Pool)
		p.processed = p.purger
		p.closers = append(p.closers, closerFunc(deps.Postgres.Close))
	} else {
		p.processed = events.NewMemoryProcessedStore(processedRetention)
	}
	if deps.Redis != nil {
		p.closers = append(p.closers, deps.Redis)
	}

	workerOpts := []conversation.WorkerOption{
		conversation.WithWorkerCount(cfg.WorkerCount),
		conversation.WithProcessedEventsStore(p.processed),
		conversation.WithDefaultBotID(cfg.DefaultBotID),
	}
	if cfg.UseMemoryQueue || strings.TrimSpace(cfg.InboundQueueURL) == "" {
		queue := conversation.NewMemoryQueue(memoryQueueBuffer)
		p.inProcess = true
		p.Publisher = conversation.NewPublisher(queue, logger)
		p.Worker = conversation.NewWorker(p.Processor, queue, repo, logger, workerOpts...)
	} else {
		if deps.AWS == nil {
			return nil, errors.New("bootstrap: sqs queue configured without aws config")
		}
		queue := conversation.NewSQSQueue(sqs.NewFromConfig(*deps.AWS), cfg.InboundQueueURL)
		p.Publisher = conversation.NewPublisher(queue, logger)
		p.Worker = conversation.NewWorker(p.Processor, queue, repo, logger, workerOpts...)
	}

	p.Webhook = whatsapp.NewWebhookHandler(cfg.WhatsAppVerifyToken, cfg.WhatsAppAppSecret, p.Publisher, logger).
		WithMetrics(pipelineMetrics)
	p.SendLimiter = httpmiddleware.NewRateLimiter(testSendRatePerSecond, testSendBurst)

	return p, nil
}

func buildBotRepository(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (bots.Repository, error) {
	if table := strings.TrimSpace(cfg.BotConfigTable); table != "" {
		if awsCfg == nil {
			return nil, fmt.Errorf("bootstrap: bot table %q configured without aws config", table)
		}
		return bots.NewDynamoRepository(dynamodb.NewFromConfig(*awsCfg), table, logger), nil
	}

	repo := bots.NewMemoryRepository()
	if id := strings.TrimSpace(cfg.DefaultBotID); id != "" {
		seed := bots.Configuration{
			ID:            id,
			PhoneNumberID: cfg.WhatsAppPhoneNumberID,
		}.WithDefaults()
		if err := repo.Put(context.Background(), seed); err != nil {
			return nil, fmt.Errorf("bootstrap: seed default bot: %w", err)
		}
	}
	logger.Warn("bot configuration kept in memory; changes are lost on restart")
	return repo, nil
}

// InProcessQueue reports whether inbound jobs stay in this process, in which
// case only this process can consume them.
func (p *Pipeline) InProcessQueue() bool {
	return p.inProcess
}

func (p *Pipeline) archiveExpired(c conversation.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	p.Archive.ArchiveExpired(ctx, c)
}

func (p *Pipeline) auditAbandoned(msg whatsapp.QueuedMessage, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), abandonAuditTimeout)
	defer cancel()
	if err := p.Audit.RecordAbandoned(ctx, msg, reason); err != nil {
		p.logger.Error("failed to audit abandoned message", "key", msg.Key, "error", err)
	}
}

// Start launches every background sweep and, when runWorkers is set, the
// inbound workers. They stop when ctx is cancelled; call Wait and then Close
// to finish shutting down.
func (p *Pipeline) Start(ctx context.Context, runWorkers bool) {
	if runWorkers {
		p.Worker.Start(ctx)
	}
	p.goRun(func() { p.Store.Run(ctx, p.cfg.ConversationSweepInterval) })
	p.goRun(func() { p.Delivery.Queue().Run(ctx, p.cfg.QueueCleanupInterval) })
	p.goRun(func() { p.SendLimiter.Run(ctx) })
	if p.purger != nil {
		p.goRun(func() { p.purgeProcessed(ctx) })
	}
	p.logger.Info("pipeline started", "workers_enabled", runWorkers, "workers", p.cfg.WorkerCount)
}

func (p *Pipeline) goRun(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

func (p *Pipeline) purgeProcessed(ctx context.Context) {
	clock.Every(ctx, p.clock, processedPurgeEvery, func() {
		n, err := p.purger.Purge(ctx, p.clock.Now().Add(-processedRetention))
		if err != nil {
			p.logger.Warn("processed events purge failed", "error", err)
			return
		}
		if n > 0 {
			p.logger.Info("processed events purged", "removed", n)
		}
	})
}

// Wait blocks until the workers and background loops have returned.
func (p *Pipeline) Wait() {
	p.Worker.Wait()
	p.wg.Wait()
}

// Close cancels pending timers and releases external clients.
func (p *Pipeline) Close() {
	p.stopOnce.Do(func() {
		p.Processor.Stop()
		p.Delivery.Queue().Stop()
		if status := p.Delivery.QueueStatus(); status.TotalQueued > 0 {
			p.logger.Warn("shutting down with undelivered messages", "queued", status.TotalQueued)
		}
		for i := len(p.closers) - 1; i >= 0; i-- {
			if err := p.closers[i].Close(); err != nil {
				p.logger.Warn("close failed", "error", err)
			}
		}
	})
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}
