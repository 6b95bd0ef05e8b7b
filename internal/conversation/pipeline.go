package conversation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/wolfman30/aliado-ai-platform/internal/bots"
	"github.com/wolfman30/aliado-ai-platform/internal/channels/whatsapp"
	"github.com/wolfman30/aliado-ai-platform/internal/clock"
	"github.com/wolfman30/aliado-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/aliado-ai-platform/pkg/logging"
)

const (
	historyWindow         = 3
	handoffMessageLimit   = 10
	freshConversationSize = 2
	typingPerRune         = 30 * time.Millisecond
	minTypingDelay        = 500 * time.Millisecond
	maxTypingDelay        = 2 * time.Second
	defaultFollowUpDelay  = 2 * time.Second
)

var errEmptyText = errors.New("conversation: message has no text to answer")

// Messenger is the outbound side of the pipeline.
type Messenger interface {
	SendText(ctx context.Context, creds whatsapp.Credentials, to, body string) (whatsapp.DeliveryResult, error)
	MarkAsRead(ctx context.Context, creds whatsapp.Credentials, messageID string) (whatsapp.DeliveryResult, error)
}

// HandoffEvent describes a conversation passed to the human team.
type HandoffEvent struct {
	BotID       string    `json:"botId"`
	BotName     string    `json:"botName"`
	NotifyEmail string    `json:"notifyEmail,omitempty"`
	UserID      string    `json:"userId"`
	ContactName string    `json:"contactName,omitempty"`
	Message     string    `json:"message"`
	Intent      Intent    `json:"intent"`
	History     string    `json:"history"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// HandoffNotifier alerts operators about a handoff.
type HandoffNotifier interface {
	NotifyHandoff(ctx context.Context, evt HandoffEvent) error
}

// HandoffAuditor persists handoffs for later review.
type HandoffAuditor interface {
	RecordHandoff(ctx context.Context, evt HandoffEvent) error
}

// TranscriptRecorder mirrors conversation turns outside the process.
type TranscriptRecorder interface {
	Append(ctx context.Context, userID string, entry TranscriptEntry) error
}

// ResultKind names the branch a message took through the pipeline.
type ResultKind string

const (
	KindTextReply   ResultKind = "text_reply"
	KindHandoff     ResultKind = "handoff"
	KindImageAck    ResultKind = "image_acknowledgment"
	KindUnsupported ResultKind = "unsupported_acknowledgment"
	KindError       ResultKind = "error"
)

// Result is the outcome of processing one inbound message.
type Result struct {
	Success            bool                    `json:"success"`
	Kind               ResultKind              `json:"type"`
	Response           string                  `json:"response,omitempty"`
	Intent             *Intent                 `json:"intent,omitempty"`
	HandedOff          bool                    `json:"handedOff,omitempty"`
	ConversationLength int                     `json:"conversationLength,omitempty"`
	Delivery           whatsapp.DeliveryResult `json:"delivery"`
	Error              string                  `json:"error,omitempty"`
}

// Processor turns a normalized inbound message into a reply. It owns the
// conversation store updates, intent routing and follow-up side effects.
type Processor struct {
	store      *ContextStore
	generator  *ReplyGenerator
	messenger  Messenger
	clock      clock.Clock
	picker     *picker
	logger     *logging.Logger
	metrics    *metrics.PipelineMetrics
	notifier   HandoffNotifier
	auditor    HandoffAuditor
	transcript TranscriptRecorder

	defaultCreds  whatsapp.Credentials
	readReceipts  bool
	followUpDelay time.Duration

	timersMu sync.Mutex
	timers   map[clock.Timer]struct{}
}

func NewProcessor(store *ContextStore, generator *ReplyGenerator, messenger Messenger, logger *logging.Logger) *Processor {
	if store == nil {
		panic("conversation: context store cannot be nil")
	}
	if generator == nil {
		panic("conversation: reply generator cannot be nil")
	}
	if messenger == nil {
		panic("conversation: messenger cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Processor{
		store:         store,
		generator:     generator,
		messenger:     messenger,
		clock:         clock.Real(),
		picker:        newPicker(nil),
		logger:        logger,
		followUpDelay: defaultFollowUpDelay,
		timers:        make(map[clock.Timer]struct{}),
	}
}

func (p *Processor) WithClock(clk clock.Clock) *Processor {
	if clk != nil {
		p.clock = clk
	}
	return p
}

func (p *Processor) WithRand(rng *rand.Rand) *Processor {
	p.picker = newPicker(rng)
	return p
}

func (p *Processor) WithMetrics(m *metrics.PipelineMetrics) *Processor {
	p.metrics = m
	return p
}

func (p *Processor) WithHandoffNotifier(n HandoffNotifier) *Processor {
	p.notifier = n
	return p
}

func (p *Processor) WithHandoffAuditor(a HandoffAuditor) *Processor {
	p.auditor = a
	return p
}

func (p *Processor) WithTranscript(t TranscriptRecorder) *Processor {
	p.transcript = t
	return p
}

// WithDefaultCredentials sets the credentials used when a bot has none of its own.
func (p *Processor) WithDefaultCredentials(creds whatsapp.Credentials) *Processor {
	p.defaultCreds = creds
	return p
}

// WithReadReceipts marks every inbound message as read before answering it.
func (p *Processor) WithReadReceipts(enabled bool) *Processor {
	p.readReceipts = enabled
	return p
}

func (p *Processor) WithFollowUpDelay(d time.Duration) *Processor {
	if d > 0 {
		p.followUpDelay = d
	}
	return p
}

// Store exposes the conversation store for operational views.
func (p *Processor) Store() *ContextStore {
	return p.store
}

// CredentialsFor picks the credentials used to answer on behalf of bot. The
// phone number that received the message wins over the bot's configured one.
func (p *Processor) CredentialsFor(bot bots.Configuration, meta whatsapp.Metadata) whatsapp.Credentials {
	creds := p.defaultCreds
	if token := strings.TrimSpace(bot.AccessToken); token != "" {
		creds.AccessToken = token
	}
	switch {
	case strings.TrimSpace(meta.PhoneNumberID) != "":
		creds.PhoneNumberID = strings.TrimSpace(meta.PhoneNumberID)
	case strings.TrimSpace(bot.PhoneNumberID) != "":
		creds.PhoneNumberID = strings.TrimSpace(bot.PhoneNumberID)
	}
	return creds
}

// ProcessMessage answers one inbound message. Failures, including panics, are
// logged and answered with a best-effort apology; they never escape.
func (p *Processor) ProcessMessage(ctx context.Context, msg whatsapp.InboundMessage, meta whatsapp.Metadata, bot bots.Configuration) (result Result) {
	env := msg.Envelope()
	bot = bot.WithDefaults()
	creds := p.CredentialsFor(bot, meta)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("conversation: panic while processing message: %v", r)
			result = p.fail(ctx, creds, env.From, err, technicalErrorTemplates)
		}
		outcome := string(result.Kind)
		if !result.Success {
			outcome = string(KindError)
		}
		p.metrics.ObserveInbound(env.Type, outcome)
		p.metrics.SetActiveConversations(p.store.Len())
	}()

	p.logger.Info("processing inbound message", "user_id", env.From, "message_id", env.ID, "type", env.Type, "bot_id", bot.ID)

	if strings.TrimSpace(env.From) == "" {
		return p.fail(ctx, creds, env.From, errors.New("conversation: inbound message has no sender"), nil)
	}
	if p.readReceipts && env.ID != "" {
		if _, err := p.messenger.MarkAsRead(ctx, creds, env.ID); err != nil {
			p.logger.Warn("failed to mark message as read", "message_id", env.ID, "error", err)
		}
	}

	var err error
	switch m := msg.(type) {
	case whatsapp.TextMessage:
		result, err = p.processText(ctx, env, m.Body, creds, bot)
	case whatsapp.ButtonReply:
		result, err = p.processText(ctx, env, firstNonBlank(m.Payload, m.Text), creds, bot)
	case whatsapp.InteractiveReply:
		result, err = p.processText(ctx, env, firstNonBlank(m.ReplyID, m.Title), creds, bot)
	case whatsapp.ImageMessage:
		result, err = p.processImage(ctx, env, m.Caption, creds)
	case whatsapp.UnsupportedMessage:
		result, err = p.processUnsupported(ctx, env, creds)
	default:
		result, err = p.processUnsupported(ctx, env, creds)
	}
	if err != nil {
		templates := technicalErrorTemplates
		if result.Kind == KindTextReply || result.Kind == KindHandoff {
			templates = notUnderstoodTemplates
		}
		return p.fail(ctx, creds, env.From, err, templates)
	}
	return result
}

func (p *Processor) processText(ctx context.Context, env whatsapp.Envelope, text string, creds whatsapp.Credentials, bot bots.Configuration) (Result, error) {
	from := env.From
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Kind: KindTextReply}, errEmptyText
	}

	history := p.store.RecentHistory(from, historyWindow)
	p.record(ctx, from, text, false)

	intent := Classify(text)
	p.metrics.ObserveIntent(string(intent.Type), intent.Priority.String())
	p.store.RaisePriority(from, intent.Priority)
	p.logger.Debug("intent classified", "user_id", from, "intent", intent.Type, "priority", intent.Priority, "requires_human", intent.RequiresHuman)

	if intent.RequiresHuman {
		return p.handoff(ctx, env, text, intent, creds, bot)
	}

	reply := p.generator.Generate(ctx, text, bot, history, intent)
	p.record(ctx, from, reply.Text, true)

	res, err := p.sendWithTyping(ctx, creds, from, reply.Text)
	if err != nil {
		return Result{Kind: KindTextReply, Intent: &intent, Delivery: res}, err
	}

	p.followUp(ctx, intent, from, creds)

	return Result{
		Success:            true,
		Kind:               KindTextReply,
		Response:           reply.Text,
		Intent:             &intent,
		ConversationLength: len(p.store.Get(from).Messages),
		Delivery:           res,
	}, nil
}

func (p *Processor) handoff(ctx context.Context, env whatsapp.Envelope, text string, intent Intent, creds whatsapp.Credentials, bot bots.Configuration) (Result, error) {
	from := env.From
	reply := p.picker.pick(handoffTemplates)

	res, err := p.deliver(ctx, creds, from, reply)
	if err != nil {
		return Result{Kind: KindHandoff, Intent: &intent, Delivery: res}, err
	}

	p.store.UpdateFlags(from, func(f *Flags) {
		f.NeedsHuman = true
		if intent.Type == IntentComplaint {
			f.Complaint = true
		}
	})
	p.record(ctx, from, reply, true)
	p.metrics.ObserveHandoff(string(intent.Type))
	p.logger.Info("conversation handed off to human", "user_id", from, "bot_id", bot.ID, "intent", intent.Type, "priority", intent.Priority)

	evt := HandoffEvent{
		BotID:       bot.ID,
		BotName:     bot.Name,
		NotifyEmail: bot.NotifyEmail,
		UserID:      from,
		ContactName: env.ContactName,
		Message:     text,
		Intent:      intent,
		History:     p.store.RecentHistory(from, maxStoredMessages),
		OccurredAt:  p.clock.Now().UTC(),
	}
	if p.notifier != nil {
		if err := p.notifier.NotifyHandoff(ctx, evt); err != nil {
			p.logger.Warn("handoff notification failed", "user_id", from, "error", err)
		}
	}
	if p.auditor != nil {
		if err := p.auditor.RecordHandoff(ctx, evt); err != nil {
			p.logger.Warn("handoff audit failed", "user_id", from, "error", err)
		}
	}

	return Result{
		Success:            true,
		Kind:               KindHandoff,
		Response:           reply,
		Intent:             &intent,
		HandedOff:          true,
		ConversationLength: len(p.store.Get(from).Messages),
		Delivery:           res,
	}, nil
}

func (p *Processor) processImage(ctx context.Context, env whatsapp.Envelope, caption string, creds whatsapp.Credentials) (Result, error) {
	caption = strings.TrimSpace(caption)
	reply := imageAcknowledgement(caption)

	res, err := p.deliver(ctx, creds, env.From, reply)
	if err != nil {
		return Result{Kind: KindImageAck, Delivery: res}, err
	}
	p.record(ctx, env.From, imageHistoryEntry(caption), false)
	p.record(ctx, env.From, reply, true)

	return Result{Success: true, Kind: KindImageAck, Response: reply, Delivery: res}, nil
}

func (p *Processor) processUnsupported(ctx context.Context, env whatsapp.Envelope, creds whatsapp.Credentials) (Result, error) {
	reply := unsupportedReply(env.Type)
	res, err := p.deliver(ctx, creds, env.From, reply)
	if err != nil {
		return Result{Kind: KindUnsupported, Delivery: res}, err
	}
	return Result{Success: true, Kind: KindUnsupported, Response: reply, Delivery: res}, nil
}

// followUp runs the intent-specific side effects after a reply went out.
func (p *Processor) followUp(ctx context.Context, intent Intent, from string, creds whatsapp.Credentials) {
	switch intent.Type {
	case IntentPricing:
		p.store.UpdateFlags(from, func(f *Flags) { f.InterestedInPricing = true })
	case IntentComplaint:
		p.store.UpdateFlags(from, func(f *Flags) { f.Complaint = true })
		p.store.RaisePriority(from, PriorityHigh)
	case IntentGreeting:
		if len(p.store.Get(from).Messages) <= freshConversationSize {
			p.schedule(context.WithoutCancel(ctx), creds, from, optionsPrompt)
		}
	}
}

// schedule sends text after the follow-up delay unless Stop runs first.
func (p *Processor) schedule(ctx context.Context, creds whatsapp.Credentials, to, text string) {
	p.timersMu.Lock()
	defer p.timersMu.Unlock()

	var t clock.Timer
	t = p.clock.AfterFunc(p.followUpDelay, func() {
		p.timersMu.Lock()
		delete(p.timers, t)
		p.timersMu.Unlock()

		if _, err := p.deliver(ctx, creds, to, text); err != nil {
			p.logger.Warn("follow-up message failed", "user_id", to, "error", err)
		}
	})
	p.timers[t] = struct{}{}
}

// PendingFollowUps reports how many delayed messages are still scheduled.
func (p *Processor) PendingFollowUps() int {
	p.timersMu.Lock()
	defer p.timersMu.Unlock()
	return len(p.timers)
}

// Stop cancels every scheduled follow-up.
func (p *Processor) Stop() {
	p.timersMu.Lock()
	defer p.timersMu.Unlock()
	for t := range p.timers {
		t.Stop()
		delete(p.timers, t)
	}
}

// ShouldHandoffToHuman reports whether a conversation ought to be routed to
// a person. A non-positive messageCount uses the stored total instead.
func (p *Processor) ShouldHandoffToHuman(userID string, messageCount int) bool {
	convo, ok := p.store.Peek(userID)
	if messageCount <= 0 && ok {
		messageCount = convo.TotalMessages
	}
	flags := convo.Flags
	return flags.NeedsHuman ||
		flags.Complaint ||
		messageCount > handoffMessageLimit ||
		flags.Priority == PriorityUrgent
}

func (p *Processor) sendWithTyping(ctx context.Context, creds whatsapp.Credentials, to, text string) (whatsapp.DeliveryResult, error) {
	if err := p.clock.Sleep(ctx, typingDelay(text)); err != nil {
		return whatsapp.DeliveryResult{}, fmt.Errorf("conversation: typing delay interrupted: %w", err)
	}
	return p.deliver(ctx, creds, to, text)
}

// deliver sends text. A deferred (queued) delivery counts as success.
func (p *Processor) deliver(ctx context.Context, creds whatsapp.Credentials, to, text string) (whatsapp.DeliveryResult, error) {
	res, err := p.messenger.SendText(ctx, creds, to, text)
	if err != nil {
		return res, fmt.Errorf("conversation: send reply: %w", err)
	}
	if !res.Success && !res.Queued {
		if res.Err != nil {
			return res, fmt.Errorf("conversation: reply not delivered: %w", res.Err)
		}
		return res, errors.New("conversation: reply not delivered")
	}
	return res, nil
}

// SendEmergency tells the sender something went wrong before the pipeline
// could run. Failures are only logged.
func (p *Processor) SendEmergency(ctx context.Context, creds whatsapp.Credentials, to string) {
	if strings.TrimSpace(to) == "" {
		return
	}
	if _, err := p.deliver(ctx, creds, to, EmergencyFallback); err != nil {
		p.logger.Error("failed to send emergency fallback", "user_id", to, "error", err)
	}
}

// fail logs err and, when templates are given, sends the sender one apology.
func (p *Processor) fail(ctx context.Context, creds whatsapp.Credentials, to string, err error, templates []string) Result {
	p.logger.Error("message processing failed", "user_id", to, "error", err)
	if len(templates) > 0 && strings.TrimSpace(to) != "" {
		if _, sendErr := p.deliver(ctx, creds, to, p.picker.pick(templates)); sendErr != nil {
			p.logger.Error("failed to send apology", "user_id", to, "error", sendErr)
		}
	}
	return Result{Success: false, Kind: KindError, Error: err.Error()}
}

func (p *Processor) record(ctx context.Context, userID, text string, fromBot bool) {
	p.store.AddMessage(userID, text, fromBot)
	if p.transcript == nil {
		return
	}
	role := ChatRoleUser
	if fromBot {
		role = ChatRoleAssistant
	}
	entry := TranscriptEntry{Role: role, Body: text, Timestamp: p.clock.Now().UTC()}
	if err := p.transcript.Append(ctx, userID, entry); err != nil {
		p.logger.Warn("failed to mirror transcript", "user_id", userID, "error", err)
	}
}

func typingDelay(text string) time.Duration {
	d := time.Duration(utf8.RuneCountInString(text)) * typingPerRune
	if d < minTypingDelay {
		return minTypingDelay
	}
	if d > maxTypingDelay {
		return maxTypingDelay
	}
	return d
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
