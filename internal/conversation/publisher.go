package conversation

import (
	"context"
	"fmt"

	"github.com/wolfman30/aliado-ai-platform/internal/channels/whatsapp"
	"github.com/wolfman30/aliado-ai-platform/pkg/logging"
)

// Publisher enqueues inbound WhatsApp events for the Worker. It satisfies
// whatsapp.Dispatcher so the webhook can ack before any processing happens.
type Publisher struct {
	queue  queueClient
	logger *logging.Logger
}

func NewPublisher(queue queueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// Dispatch publishes evt. The WhatsApp message id doubles as the job id.
func (p *Publisher) Dispatch(ctx context.Context, evt whatsapp.InboundEvent) error {
	payload, body, err := encodePayload(queuePayload{
		ID:      evt.Message.ID,
		Kind:    jobTypeInbound,
		Inbound: &evt,
	})
	if err != nil {
		return err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return fmt.Errorf("conversation: failed to enqueue inbound message: %w", err)
	}
	p.logger.Debug("inbound message enqueued", "job_id", payload.ID, "bot_id", evt.BotID, "user_id", evt.Message.From)
	return nil
}
