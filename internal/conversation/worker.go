package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/aliado-ai-platform/internal/bots"
	"github.com/wolfman30/aliado-ai-platform/internal/channels/whatsapp"
	"github.com/wolfman30/aliado-ai-platform/pkg/logging"
)

const (
	defaultWorkerCount  = 2
	defaultReceiveWait  = 2 * time.Second
	defaultBatchSize    = 5
	maxReceiveBatchSize = 10
	deleteTimeout       = 5 * time.Second
	processedProvider   = "whatsapp"
)

// ErrInvalidJob marks a queue body that cannot be decoded into an inbound job.
var ErrInvalidJob = errors.New("conversation: invalid inbound job")

// processedEventStore claims a provider event id. MarkProcessed returns false
// when the id was already claimed.
type processedEventStore interface {
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// Worker consumes inbound jobs and runs them through the Processor.
type Worker struct {
	processor    *Processor
	queue        queueClient
	bots         bots.Repository
	processed    processedEventStore
	defaultBotID string
	logger       *logging.Logger
	locks        *senderLocks

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers      int
	receiveWait  time.Duration
	batchSize    int
	processed    processedEventStore
	defaultBotID string
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWait sets how long one poll waits for messages.
func WithReceiveWait(wait time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if wait >= 0 {
			cfg.receiveWait = wait
		}
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.batchSize = size
	}
}

// WithProcessedEventsStore drops redeliveries of a WhatsApp message id.
func WithProcessedEventsStore(store processedEventStore) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.processed = store
	}
}

// WithDefaultBotID names the configuration used when an event's bot is unknown.
func WithDefaultBotID(id string) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.defaultBotID = strings.TrimSpace(id)
	}
}

func NewWorker(processor *Processor, queue queueClient, repo bots.Repository, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if processor == nil {
		panic("conversation: processor cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if repo == nil {
		panic("conversation: bot repository cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:     defaultWorkerCount,
		receiveWait: defaultReceiveWait,
		batchSize:   defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		processor:    processor,
		queue:        queue,
		bots:         repo,
		processed:    cfg.processed,
		defaultBotID: cfg.defaultBotID,
		logger:       logger,
		locks:        newSenderLocks(),
		cfg:          cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("inbound worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			w.logger.Debug("inbound worker stopping", "worker_id", workerID)
			return
		}

		messages, err := w.queue.Receive(ctx, w.cfg.batchSize, w.cfg.receiveWait)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive inbound jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	defer w.deleteMessage(context.WithoutCancel(ctx), msg.ReceiptHandle)

	if err := w.HandleJob(ctx, msg.Body); err != nil {
		if errors.Is(err, ErrInvalidJob) {
			w.logger.Error("dropping inbound job", "error", err, "queue_message_id", msg.ID)
			return
		}
		w.logger.Error("inbound job failed", "error", err, "queue_message_id", msg.ID)
	}
}

// HandleJob decodes one raw queue body and processes the event it carries.
// Bodies that can never succeed wrap ErrInvalidJob.
func (w *Worker) HandleJob(ctx context.Context, body string) error {
	payload, err := decodePayload(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if payload.Kind != jobTypeInbound || payload.Inbound == nil {
		return fmt.Errorf("%w: job %s has kind %q", ErrInvalidJob, payload.ID, payload.Kind)
	}
	return w.Handle(ctx, *payload.Inbound)
}

// Handle processes one inbound event. Events from the same sender are handled
// one at a time, in arrival order within this process.
func (w *Worker) Handle(ctx context.Context, evt whatsapp.InboundEvent) error {
	msgID := strings.TrimSpace(evt.Message.ID)
	if w.processed != nil && msgID != "" {
		fresh, err := w.processed.MarkProcessed(ctx, processedProvider, msgID)
		if err != nil {
			w.logger.Warn("dedupe check failed, processing anyway", "message_id", msgID, "error", err)
		} else if !fresh {
			w.logger.Info("skipping duplicate inbound message", "message_id", msgID)
			return nil
		}
	}

	unlock := w.locks.lock(evt.Message.From)
	defer unlock()

	bot, err := w.resolveBot(ctx, evt.BotID)
	if err != nil {
		creds := w.processor.CredentialsFor(bots.Configuration{}, evt.Metadata)
		w.processor.SendEmergency(ctx, creds, evt.Message.From)
		return err
	}

	msg := whatsapp.Normalize(evt.Message, evt.ContactName)
	result := w.processor.ProcessMessage(ctx, msg, evt.Metadata, bot)
	w.logger.Info("inbound message processed",
		"message_id", msgID,
		"bot_id", bot.ID,
		"success", result.Success,
		"kind", result.Kind,
		"handed_off", result.HandedOff,
		"conversation_length", result.ConversationLength,
	)
	return nil
}

// resolveBot loads botID, falling back to the default bot when it is unknown.
func (w *Worker) resolveBot(ctx context.Context, botID string) (bots.Configuration, error) {
	botID = strings.TrimSpace(botID)
	if botID == "" {
		botID = w.defaultBotID
	}
	cfg, err := w.bots.Get(ctx, botID)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, bots.ErrNotFound) && w.defaultBotID != "" && botID != w.defaultBotID {
		w.logger.Warn("bot not found, using default", "bot_id", botID, "default_bot_id", w.defaultBotID)
		cfg, err = w.bots.Get(ctx, w.defaultBotID)
		if err == nil {
			return cfg, nil
		}
	}
	return bots.Configuration{}, fmt.Errorf("conversation: resolve bot %q: %w", botID, err)
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, deleteTimeout)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete inbound job", "error", err)
	}
}

// senderLocks hands out one mutex per sender, freeing it once unused.
type senderLocks struct {
	mu    sync.Mutex
	locks map[string]*senderLock
}

type senderLock struct {
	mu   sync.Mutex
	refs int
}

func newSenderLocks() *senderLocks {
	return &senderLocks{locks: make(map[string]*senderLock)}
}

func (s *senderLocks) lock(sender string) func() {
	s.mu.Lock()
	l, ok := s.locks[sender]
	if !ok {
		l = &senderLock{}
		s.locks[sender] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, sender)
		}
		s.mu.Unlock()
	}
}

func (s *senderLocks) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
