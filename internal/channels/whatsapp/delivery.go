package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/aliado-ai-platform/internal/clock"
	"github.com/wolfman30/aliado-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/aliado-ai-platform/pkg/logging"
)

var deliveryTracer = otel.Tracer("aliado.internal.channels.whatsapp.delivery")

// MessageType labels the shape of an outbound payload.
type MessageType string

const (
	MessageText        MessageType = "text"
	MessageButton      MessageType = "button"
	MessageList        MessageType = "list"
	MessageImage       MessageType = "image"
	MessageDocument    MessageType = "document"
	MessageTemplate    MessageType = "template"
	MessageReadReceipt MessageType = "read_receipt"
)

const (
	maxButtons            = 3
	maxButtonTitle        = 20
	maxListRows           = 10
	maxListRowTitle       = 24
	maxListRowDescription = 72
	maxCaption            = 1024
	defaultListButtonText = "Opciones"
	defaultTemplateLang   = "es"
)

// DeliveryResult describes the outcome of one logical send.
type DeliveryResult struct {
	Success    bool   `json:"success"`
	MessageID  string `json:"messageId,omitempty"`
	Attempts   int    `json:"attempts"`
	Retryable  bool   `json:"retryable"`
	Queued     bool   `json:"queued"`
	QueueKey   string `json:"queueKey,omitempty"`
	StatusCode int    `json:"code,omitempty"`
	Err        error  `json:"-"`
}

type poster interface {
	Post(ctx context.Context, creds Credentials, payload OutboundPayload) (*SendResponse, error)
}

// DeliveryManager formats WhatsApp payloads and sends them with fast in-process
// retries, handing retryable failures to a deferred RetryQueue.
type DeliveryManager struct {
	client      poster
	queue       *RetryQueue
	clock       clock.Clock
	logger      *logging.Logger
	metrics     *metrics.DeliveryMetrics
	maxAttempts int
	baseDelay   time.Duration
}

func NewDeliveryManager(client poster, clk clock.Clock, logger *logging.Logger) *DeliveryManager {
	if logger == nil {
		logger = logging.Default()
	}
	if clk == nil {
		clk = clock.Real()
	}
	d := &DeliveryManager{
		client:      client,
		clock:       clk,
		logger:      logger.Component("whatsapp.delivery"),
		maxAttempts: 3,
		baseDelay:   time.Second,
	}
	d.queue = NewRetryQueue(d.attempt, clk, logger)
	return d
}

func (d *DeliveryManager) WithMaxAttempts(n int) *DeliveryManager {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

func (d *DeliveryManager) WithBaseDelay(delay time.Duration) *DeliveryManager {
	if delay > 0 {
		d.baseDelay = delay
	}
	return d
}

func (d *DeliveryManager) WithMetrics(m *metrics.DeliveryMetrics) *DeliveryManager {
	d.metrics = m
	d.queue.metrics = m
	return d
}

// Queue exposes the deferred retry queue for configuration and introspection.
func (d *DeliveryManager) Queue() *RetryQueue {
	return d.queue
}

// QueueStatus is a snapshot of the deferred retry queue.
func (d *DeliveryManager) QueueStatus() QueueStatus {
	return d.queue.Status()
}

// Send posts payload, retrying transient failures with exponential backoff
// (baseDelay, 2×baseDelay, ...). A failure still retryable after the last
// attempt is queued for deferred retry; a permanent failure is returned as is.
func (d *DeliveryManager) Send(ctx context.Context, creds Credentials, payload OutboundPayload, typ MessageType) DeliveryResult {
	return d.send(ctx, creds, payload, typ, nil)
}

// send is Send with the payloads that must follow payload. When payload is
// deferred, rest is deferred with it so the sequence keeps its order.
func (d *DeliveryManager) send(ctx context.Context, creds Credentials, payload OutboundPayload, typ MessageType, rest []OutboundPayload) DeliveryResult {
	ctx, span := deliveryTracer.Start(ctx, "whatsapp.delivery.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("aliado.message_type", string(typ)),
		attribute.String("aliado.to", payload.To),
	)

	res := d.attempt(ctx, creds, payload, typ)
	span.SetAttributes(attribute.Int("aliado.attempts", res.Attempts))
	if res.Success {
		d.metrics.ObserveSend(string(typ), "success")
		return res
	}

	span.RecordError(res.Err)
	span.SetStatus(codes.Error, "send failed")
	if res.Retryable && typ != MessageReadReceipt {
		res.QueueKey = d.queue.Enqueue(payload, creds, typ, rest...)
		res.Queued = true
		d.metrics.ObserveSend(string(typ), "queued")
		d.logger.Warn("whatsapp send deferred", "type", typ, "to", payload.To, "attempts", res.Attempts, "queue_key", res.QueueKey, "error", res.Err)
		return res
	}
	d.metrics.ObserveSend(string(typ), "failed")
	d.logger.Error("whatsapp send failed", "type", typ, "to", payload.To, "attempts", res.Attempts, "retryable", res.Retryable, "error", res.Err)
	return res
}

// attempt runs the fast retry loop without touching the deferred queue.
func (d *DeliveryManager) attempt(ctx context.Context, creds Credentials, payload OutboundPayload, typ MessageType) DeliveryResult {
	var res DeliveryResult
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		res.Attempts = attempt
		d.logger.Debug("sending whatsapp message", "type", typ, "to", payload.To, "attempt", attempt, "max_attempts", d.maxAttempts)

		start := d.clock.Now()
		resp, err := d.client.Post(ctx, creds, payload)
		d.metrics.ObserveSendLatency(string(typ), d.clock.Now().Sub(start).Seconds())
		if err == nil {
			d.logger.Info("whatsapp message sent", "type", typ, "to", payload.To, "message_id", resp.MessageID(), "attempt", attempt)
			return DeliveryResult{Success: true, MessageID: resp.MessageID(), Attempts: attempt}
		}

		res.Err = err
		res.Retryable = IsRetryable(err)
		res.StatusCode = 0
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			res.StatusCode = apiErr.StatusCode
		}
		d.logger.Warn("whatsapp send attempt failed", "type", typ, "to", payload.To, "attempt", attempt, "status", res.StatusCode, "retryable", res.Retryable, "error", err)

		if !res.Retryable || attempt == d.maxAttempts {
			break
		}
		delay := d.baseDelay * time.Duration(1<<(attempt-1))
		d.metrics.ObserveFastRetry(string(typ))
		if err := d.clock.Sleep(ctx, delay); err != nil {
			res.Err = fmt.Errorf("whatsapp: backoff interrupted: %w", err)
			res.Retryable = false
			break
		}
	}
	return res
}

// SendText sends body to to. Bodies over MaxTextLength are split at sentence
// boundaries and sent in order. If a chunk is deferred, the chunks after it
// are deferred on the same queue entry; a permanent failure stops the rest.
func (d *DeliveryManager) SendText(ctx context.Context, creds Credentials, to, body string) (DeliveryResult, error) {
	recipient, err := NormalizePhone(to)
	if err != nil {
		return DeliveryResult{}, err
	}
	if strings.TrimSpace(body) == "" {
		return DeliveryResult{}, &ValidationError{Field: "text", Reason: "body required"}
	}

	chunks := SplitText(body, MaxTextLength)
	payloads := make([]OutboundPayload, len(chunks))
	for i, chunk := range chunks {
		payloads[i] = OutboundPayload{
			MessagingProduct: "whatsapp",
			RecipientType:    "individual",
			To:               recipient,
			Type:             "text",
			Text:             &TextBody{Body: chunk},
		}
	}

	var res DeliveryResult
	for i, payload := range payloads {
		res = d.send(ctx, creds, payload, MessageText, payloads[i+1:])
		if !res.Success {
			break
		}
	}
	return res, nil
}

// Button is a reply button. An empty ID is generated.
type Button struct {
	ID    string
	Title string
}

// ButtonOptions adds the optional header and footer of an interactive message.
type ButtonOptions struct {
	Header string
	Footer string
}

// SendButtons sends an interactive message with one to three reply buttons.
// Titles longer than 20 characters are truncated.
func (d *DeliveryManager) SendButtons(ctx context.Context, creds Credentials, to, body string, buttons []Button, opts ButtonOptions) (DeliveryResult, error) {
	recipient, err := NormalizePhone(to)
	if err != nil {
		return DeliveryResult{}, err
	}
	if len(buttons) == 0 || len(buttons) > maxButtons {
		return DeliveryResult{}, &ValidationError{Field: "buttons", Reason: fmt.Sprintf("between 1 and %d buttons allowed, got %d", maxButtons, len(buttons))}
	}
	if strings.TrimSpace(body) == "" {
		return DeliveryResult{}, &ValidationError{Field: "body", Reason: "body required"}
	}

	stamp := d.clock.Now().UnixMilli()
	replies := make([]ReplyButton, 0, len(buttons))
	for i, b := range buttons {
		if strings.TrimSpace(b.Title) == "" {
			return DeliveryResult{}, &ValidationError{Field: "buttons", Reason: fmt.Sprintf("button %d has no title", i)}
		}
		id := b.ID
		if id == "" {
			id = fmt.Sprintf("btn_%d_%d", i, stamp)
		}
		replies = append(replies, ReplyButton{
			Type:  "reply",
			Reply: ReplyTitle{ID: id, Title: truncateRunes(b.Title, maxButtonTitle)},
		})
	}

	interactive := &Interactive{
		Type:   "button",
		Body:   InteractiveText{Text: body},
		Action: InteractiveAction{Buttons: replies},
	}
	if opts.Header != "" {
		interactive.Header = &InteractiveHeader{Type: "text", Text: opts.Header}
	}
	if opts.Footer != "" {
		interactive.Footer = &InteractiveText{Text: opts.Footer}
	}

	return d.Send(ctx, creds, OutboundPayload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               recipient,
		Type:             "interactive",
		Interactive:      interactive,
	}, MessageButton), nil
}

// Section groups list rows under a title.
type Section struct {
	Title string
	Rows  []Row
}

// Row is a selectable list option. An empty ID is generated.
type Row struct {
	ID          string
	Title       string
	Description string
}

// SendList sends an interactive list message. Row titles are truncated to 24
// characters and descriptions to 72.
func (d *DeliveryManager) SendList(ctx context.Context, creds Credentials, to, body, buttonText string, sections []Section) (DeliveryResult, error) {
	recipient, err := NormalizePhone(to)
	if err != nil {
		return DeliveryResult{}, err
	}
	if strings.TrimSpace(body) == "" {
		return DeliveryResult{}, &ValidationError{Field: "body", Reason: "body required"}
	}
	if buttonText == "" {
		buttonText = defaultListButtonText
	}

	total := 0
	out := make([]ListSection, 0, len(sections))
	for _, section := range sections {
		rows := make([]ListRow, 0, len(section.Rows))
		for i, row := range section.Rows {
			if strings.TrimSpace(row.Title) == "" {
				return DeliveryResult{}, &ValidationError{Field: "sections", Reason: fmt.Sprintf("row %d of %q has no title", i, section.Title)}
			}
			id := row.ID
			if id == "" {
				id = fmt.Sprintf("list_%s_%d", section.Title, i)
			}
			rows = append(rows, ListRow{
				ID:          id,
				Title:       truncateRunes(row.Title, maxListRowTitle),
				Description: truncateRunes(row.Description, maxListRowDescription),
			})
		}
		total += len(rows)
		out = append(out, ListSection{Title: section.Title, Rows: rows})
	}
	if total == 0 || total > maxListRows {
		return DeliveryResult{}, &ValidationError{Field: "sections", Reason: fmt.Sprintf("between 1 and %d rows allowed, got %d", maxListRows, total)}
	}

	return d.Send(ctx, creds, OutboundPayload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               recipient,
		Type:             "interactive",
		Interactive: &Interactive{
			Type:   "list",
			Body:   InteractiveText{Text: body},
			Action: InteractiveAction{Button: buttonText, Sections: out},
		},
	}, MessageList), nil
}

// SendImage sends an image by URL. Captions over 1024 characters are rejected.
func (d *DeliveryManager) SendImage(ctx context.Context, creds Credentials, to, link, caption string) (DeliveryResult, error) {
	recipient, err := d.validateMedia(to, link, caption)
	if err != nil {
		return DeliveryResult{}, err
	}
	return d.Send(ctx, creds, OutboundPayload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               recipient,
		Type:             "image",
		Image:            &MediaBody{Link: link, Caption: caption},
	}, MessageImage), nil
}

// SendDocument sends a document by URL with a display filename.
func (d *DeliveryManager) SendDocument(ctx context.Context, creds Credentials, to, link, filename, caption string) (DeliveryResult, error) {
	recipient, err := d.validateMedia(to, link, caption)
	if err != nil {
		return DeliveryResult{}, err
	}
	return d.Send(ctx, creds, OutboundPayload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               recipient,
		Type:             "document",
		Document:         &MediaBody{Link: link, Caption: caption, Filename: filename},
	}, MessageDocument), nil
}

// SendTemplate sends a pre-approved template. Each parameter becomes a text
// parameter of the body component; language defaults to "es".
func (d *DeliveryManager) SendTemplate(ctx context.Context, creds Credentials, to, name, language string, params []string) (DeliveryResult, error) {
	recipient, err := NormalizePhone(to)
	if err != nil {
		return DeliveryResult{}, err
	}
	if strings.TrimSpace(name) == "" {
		return DeliveryResult{}, &ValidationError{Field: "template", Reason: "name required"}
	}
	if language == "" {
		language = defaultTemplateLang
	}
	components := []TemplateComponent{}
	if len(params) > 0 {
		values := make([]TemplateParameter, 0, len(params))
		for _, p := range params {
			values = append(values, TemplateParameter{Type: "text", Text: p})
		}
		components = append(components, TemplateComponent{Type: "body", Parameters: values})
	}
	return d.Send(ctx, creds, OutboundPayload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               recipient,
		Type:             "template",
		Template: &Template{
			Name:       name,
			Language:   TemplateLanguage{Code: language},
			Components: components,
		},
	}, MessageTemplate), nil
}

// MarkAsRead sends a read receipt for an inbound message. Receipts are never queued.
func (d *DeliveryManager) MarkAsRead(ctx context.Context, creds Credentials, messageID string) (DeliveryResult, error) {
	if strings.TrimSpace(messageID) == "" {
		return DeliveryResult{}, &ValidationError{Field: "message_id", Reason: "message id required"}
	}
	return d.Send(ctx, creds, OutboundPayload{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        messageID,
	}, MessageReadReceipt), nil
}

func (d *DeliveryManager) validateMedia(to, link, caption string) (string, error) {
	recipient, err := NormalizePhone(to)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(link) == "" {
		return "", &ValidationError{Field: "link", Reason: "media link required"}
	}
	if n := utf8.RuneCountInString(caption); n > maxCaption {
		return "", &ValidationError{Field: "caption", Reason: fmt.Sprintf("caption has %d characters, max %d", n, maxCaption)}
	}
	return recipient, nil
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
