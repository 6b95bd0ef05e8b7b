package whatsapp

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wolfman30/aliado-ai-platform/internal/clock"
	"github.com/wolfman30/aliado-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/aliado-ai-platform/pkg/logging"
)

// Abandon reasons reported to the abandon hook and metrics.
const (
	AbandonMaxRetries = "max_retries"
	AbandonPermanent  = "permanent_error"
	AbandonExpired    = "expired"
)

// QueuedMessage is a send that exhausted its fast retries and waits for a deferred retry.
type QueuedMessage struct {
	Key         string
	Payload     OutboundPayload
	Credentials Credentials
	Type        MessageType
	QueuedAt    time.Time
	Retries     int
	// Remaining holds the later chunks of a split text, sent in order once
	// Payload goes through.
	Remaining []OutboundPayload
}

// QueueStatus is the operational view of the deferred queue.
type QueueStatus struct {
	TotalQueued int             `json:"totalQueued"`
	Messages    []QueuedSummary `json:"messages"`
}

type QueuedSummary struct {
	Key      string      `json:"key"`
	To       string      `json:"to"`
	Type     MessageType `json:"type"`
	QueuedAt  time.Time   `json:"queuedAt"`
	Retries   int         `json:"retries"`
	Remaining int         `json:"remaining,omitempty"`
}

type resendFunc func(ctx context.Context, creds Credentials, payload OutboundPayload, typ MessageType) DeliveryResult

type queueEntry struct {
	msg   QueuedMessage
	timer clock.Timer
}

// RetryQueue holds deferred messages in memory. Each entry is retried on its own
// timer: first after firstDelay, then every retryDelay, and is dropped once
// maxRetries deferred retries have failed or it is older than maxAge.
type RetryQueue struct {
	mu      sync.Mutex
	entries map[string]*queueEntry
	closed  bool

	resend     resendFunc
	clock      clock.Clock
	logger     *logging.Logger
	metrics    *metrics.DeliveryMetrics
	onAbandon  func(QueuedMessage, string)
	firstDelay time.Duration
	retryDelay time.Duration
	maxRetries int
	maxAge     time.Duration
}

func NewRetryQueue(resend resendFunc, clk clock.Clock, logger *logging.Logger) *RetryQueue {
	if clk == nil {
		clk = clock.Real()
	}
	return &RetryQueue{
		entries:    make(map[string]*queueEntry),
		resend:     resend,
		clock:      clk,
		logger:     logger.Component("whatsapp.retry_queue"),
		firstDelay: time.Minute,
		retryDelay: 2 * time.Minute,
		maxRetries: 5,
		maxAge:     24 * time.Hour,
	}
}

func (q *RetryQueue) WithFirstDelay(d time.Duration) *RetryQueue {
	if d > 0 {
		q.firstDelay = d
	}
	return q
}

func (q *RetryQueue) WithRetryDelay(d time.Duration) *RetryQueue {
	if d > 0 {
		q.retryDelay = d
	}
	return q
}

func (q *RetryQueue) WithMaxRetries(n int) *RetryQueue {
	if n > 0 {
		q.maxRetries = n
	}
	return q
}

func (q *RetryQueue) WithMaxAge(d time.Duration) *RetryQueue {
	if d > 0 {
		q.maxAge = d
	}
	return q
}

// WithAbandonHook registers fn to be called for every message the queue drops
// without delivering. fn runs outside the queue lock.
func (q *RetryQueue) WithAbandonHook(fn func(QueuedMessage, string)) *RetryQueue {
	q.onAbandon = fn
	return q
}

// Enqueue stores a message and schedules its first deferred retry. The key is
// "{recipient}_{unixMillis}"; a same-millisecond collision gets a numeric suffix.
// Any rest payloads ride on the same entry and go out after payload, in order.
func (q *RetryQueue) Enqueue(payload OutboundPayload, creds Credentials, typ MessageType, rest ...OutboundPayload) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	key := fmt.Sprintf("%s_%d", payload.To, now.UnixMilli())
	for i := 1; q.entries[key] != nil; i++ {
		key = fmt.Sprintf("%s_%d_%d", payload.To, now.UnixMilli(), i)
	}

	entry := &queueEntry{msg: QueuedMessage{
		Key:         key,
		Payload:     payload,
		Credentials: creds,
		Type:        typ,
		QueuedAt:    now,
		Remaining:   append([]OutboundPayload(nil), rest...),
	}}
	q.entries[key] = entry
	if !q.closed {
		entry.timer = q.clock.AfterFunc(q.firstDelay, func() { q.retry(key) })
	}
	q.metrics.SetDeferredDepth(len(q.entries))
	q.logger.Info("whatsapp message queued for retry", "key", key, "type", typ, "remaining", len(rest))
	return key
}

func (q *RetryQueue) retry(key string) {
	q.mu.Lock()
	entry, ok := q.entries[key]
	if !ok || q.closed {
		q.mu.Unlock()
		return
	}
	entry.msg.Retries++
	msg := entry.msg
	q.mu.Unlock()

	q.logger.Info("retrying queued whatsapp message", "key", key, "retry", msg.Retries, "max_retries", q.maxRetries)
	ctx := context.Background()
	res := q.resend(ctx, msg.Credentials, msg.Payload, msg.Type)
	for res.Success && len(msg.Remaining) > 0 {
		q.logger.Info("queued whatsapp chunk delivered", "key", key, "message_id", res.MessageID, "remaining", len(msg.Remaining))
		// Each chunk gets its own retry budget.
		msg.Payload, msg.Remaining = msg.Remaining[0], msg.Remaining[1:]
		msg.Retries = 0
		res = q.resend(ctx, msg.Credentials, msg.Payload, msg.Type)
	}

	reason := ""
	q.mu.Lock()
	if _, still := q.entries[key]; !still {
		q.mu.Unlock()
		return
	}
	entry.msg = msg
	switch {
	case res.Success:
		delete(q.entries, key)
		q.logger.Info("queued whatsapp message delivered", "key", key, "retry", msg.Retries, "message_id", res.MessageID)
	case !res.Retryable:
		delete(q.entries, key)
		reason = AbandonPermanent
	case msg.Retries >= q.maxRetries:
		delete(q.entries, key)
		reason = AbandonMaxRetries
	case q.closed:
	default:
		entry.timer = q.clock.AfterFunc(q.retryDelay, func() { q.retry(key) })
	}
	q.metrics.SetDeferredDepth(len(q.entries))
	q.mu.Unlock()

	if reason != "" {
		q.abandon(msg, reason, res.Err)
	}
}

func (q *RetryQueue) abandon(msg QueuedMessage, reason string, cause error) {
	q.logger.Error("giving up on queued whatsapp message", "key", msg.Key, "type", msg.Type, "retries", msg.Retries, "remaining", len(msg.Remaining), "reason", reason, "error", cause)
	q.metrics.ObserveAbandoned(string(msg.Type), reason)
	if q.onAbandon != nil {
		q.onAbandon(msg, reason)
	}
}

// Cleanup drops every message queued longer than maxAge, regardless of its
// retry count, and returns how many were removed.
func (q *RetryQueue) Cleanup() int {
	now := q.clock.Now()
	var expired []QueuedMessage

	q.mu.Lock()
	for key, entry := range q.entries {
		if now.Sub(entry.msg.QueuedAt) > q.maxAge {
			if entry.timer != nil {
				entry.timer.Stop()
			}
			delete(q.entries, key)
			expired = append(expired, entry.msg)
		}
	}
	q.metrics.SetDeferredDepth(len(q.entries))
	q.mu.Unlock()

	for _, msg := range expired {
		q.abandon(msg, AbandonExpired, nil)
	}
	return len(expired)
}

// Run calls Cleanup every interval until ctx is done, then stops all pending timers.
func (q *RetryQueue) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	clock.Every(ctx, q.clock, interval, func() {
		if n := q.Cleanup(); n > 0 {
			q.logger.Info("removed expired queued messages", "count", n)
		}
	})
	q.Stop()
}

// Stop cancels every scheduled retry. Queued entries stay visible in Status.
func (q *RetryQueue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for _, entry := range q.entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
}

// Len returns the number of queued messages.
func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Status lists queued messages ordered by enqueue time.
func (q *RetryQueue) Status() QueueStatus {
	q.mu.Lock()
	messages := make([]QueuedSummary, 0, len(q.entries))
	for _, entry := range q.entries {
		messages = append(messages, QueuedSummary{
			Key:       entry.msg.Key,
			To:        entry.msg.Payload.To,
			Type:      entry.msg.Type,
			QueuedAt:  entry.msg.QueuedAt.UTC(),
			Retries:   entry.msg.Retries,
			Remaining: len(entry.msg.Remaining),
		})
	}
	q.mu.Unlock()

	sort.Slice(messages, func(i, j int) bool {
		if messages[i].QueuedAt.Equal(messages[j].QueuedAt) {
			return messages[i].Key < messages[j].Key
		}
		return messages[i].QueuedAt.Before(messages[j].QueuedAt)
	})
	return QueueStatus{TotalQueued: len(messages), Messages: messages}
}
