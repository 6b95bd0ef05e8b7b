package conversation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/aliado-ai-platform/internal/bots"
	"github.com/wolfman30/aliado-ai-platform/internal/clock"
	"github.com/wolfman30/aliado-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/aliado-ai-platform/pkg/logging"
)

var generatorTracer = otel.Tracer("aliado.internal.conversation.generator")

const (
	defaultGenerationTimeout = 15 * time.Second
	replyMaxTokens           = 150
	replyTemperature         = 0.7
	replyTopP                = 0.8
	replyTopK                = 40
)

// ReplySource records where a reply's text came from.
type ReplySource string

const (
	SourceModel         ReplySource = "model"
	SourceFallback      ReplySource = "fallback"
	SourceNotUnderstood ReplySource = "not_understood"
)

type Reply struct {
	Text   string
	Source ReplySource
}

// ReplyGenerator asks the language model for a short WhatsApp reply and
// degrades to canned lines when the model is slow, failing or silent.
type ReplyGenerator struct {
	llm     LLMClient
	timeout time.Duration
	picker  *picker
	clock   clock.Clock
	logger  *logging.Logger
	metrics *metrics.PipelineMetrics
}

// NewReplyGenerator creates a generator. A nil llm always yields fallbacks.
func NewReplyGenerator(llm LLMClient, logger *logging.Logger) *ReplyGenerator {
	if logger == nil {
		logger = logging.Default()
	}
	return &ReplyGenerator{
		llm:     llm,
		timeout: defaultGenerationTimeout,
		picker:  newPicker(nil),
		clock:   clock.Real(),
		logger:  logger,
	}
}

func (g *ReplyGenerator) WithTimeout(d time.Duration) *ReplyGenerator {
	if d > 0 {
		g.timeout = d
	}
	return g
}

func (g *ReplyGenerator) WithRand(rng *rand.Rand) *ReplyGenerator {
	g.picker = newPicker(rng)
	return g
}

func (g *ReplyGenerator) WithClock(clk clock.Clock) *ReplyGenerator {
	if clk != nil {
		g.clock = clk
	}
	return g
}

func (g *ReplyGenerator) WithMetrics(m *metrics.PipelineMetrics) *ReplyGenerator {
	g.metrics = m
	return g
}

// Generate produces a reply to text. It never returns an error: failures and
// timeouts resolve to the fallback line for intent.
func (g *ReplyGenerator) Generate(ctx context.Context, text string, bot bots.Configuration, history string, intent Intent) Reply {
	ctx, span := generatorTracer.Start(ctx, "conversation.generator.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("aliado.intent", string(intent.Type)),
		attribute.String("aliado.bot_id", bot.ID),
	)

	start := g.clock.Now()
	reply := g.generate(ctx, text, bot, history, intent)
	g.metrics.ObserveGeneration(string(reply.Source), g.clock.Now().Sub(start).Seconds())
	span.SetAttributes(attribute.String("aliado.reply_source", string(reply.Source)))
	if reply.Source == SourceFallback {
		span.SetStatus(codes.Error, "model unavailable")
	}
	return reply
}

func (g *ReplyGenerator) generate(ctx context.Context, text string, bot bots.Configuration, history string, intent Intent) Reply {
	if g.llm == nil {
		return Reply{Text: g.picker.fallbackFor(intent), Source: SourceFallback}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.complete(ctx, LLMRequest{
		System:      []string{buildSystemPrompt(bot, intent)},
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: buildUserPrompt(history, text)}},
		MaxTokens:   replyMaxTokens,
		Temperature: replyTemperature,
		TopP:        replyTopP,
		TopK:        replyTopK,
	})
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			g.logger.Warn("reply generation timed out", "intent", intent.Type, "timeout", g.timeout)
		} else {
			g.logger.Warn("reply generation failed", "intent", intent.Type, "error", err)
		}
		return Reply{Text: g.picker.fallbackFor(intent), Source: SourceFallback}
	}

	out := strings.TrimSpace(resp.Text)
	if out == "" {
		g.logger.Warn("model returned an empty reply", "intent", intent.Type, "stop_reason", resp.StopReason)
		return Reply{Text: g.picker.pick(notUnderstoodTemplates), Source: SourceNotUnderstood}
	}
	return Reply{Text: clampReply(out), Source: SourceModel}
}

type completion struct {
	resp LLMResponse
	err  error
}

// complete returns when the model answers or ctx is done, whichever comes
// first. A client that ignores ctx is left to finish in the background.
func (g *ReplyGenerator) complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	done := make(chan completion, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- completion{err: fmt.Errorf("conversation: llm client panic: %v", r)}
			}
		}()
		resp, err := g.llm.Complete(ctx, req)
		done <- completion{resp: resp, err: err}
	}()

	select {
	case c := <-done:
		return c.resp, c.err
	case <-ctx.Done():
		return LLMResponse{}, ctx.Err()
	}
}
