package bootstrap

import (
	"context"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/aliado-ai-platform/internal/bots"
	appconfig "github.com/wolfman30/aliado-ai-platform/internal/config"
	"github.com/wolfman30/aliado-ai-platform/internal/conversation"
	"github.com/wolfman30/aliado-ai-platform/pkg/logging"
)

func TestBuildLLMClientRequiresConfig(t *testing.T) {
	_, _, err := BuildLLMClient(context.Background(), nil, nil, logging.New("error"))
	require.Error(t, err)
}

func TestBuildLLMClientNoProvider(t *testing.T) {
	client, closer, err := BuildLLMClient(context.Background(), &appconfig.Config{}, nil, logging.New("error"))
	require.NoError(t, err)
	assert.Nil(t, client)
	require.NotNil(t, closer)
	assert.NoError(t, closer.Close())
}

func TestBuildLLMClientBedrockOnly(t *testing.T) {
	cfg := &appconfig.Config{BedrockModelID: "anthropic.claude-3-haiku"}
	awsCfg := aws.Config{Region: "us-east-1"}

	client, _, err := BuildLLMClient(context.Background(), cfg, &awsCfg, logging.New("error"))
	require.NoError(t, err)
	assert.IsType(t, &conversation.BedrockLLMClient{}, client)
}

func TestBuildLLMClientBedrockWithoutAWS(t *testing.T) {
	cfg := &appconfig.Config{BedrockModelID: "anthropic.claude-3-haiku"}

	client, _, err := BuildLLMClient(context.Background(), cfg, nil, logging.New("error"))
	require.NoError(t, err)
	assert.Nil(t, client)
}

type recordingConverse struct {
	mu     sync.Mutex
	models []string
}

func (r *recordingConverse) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	r.mu.Lock()
	r.models = append(r.models, aws.ToString(in.ModelId))
	r.mu.Unlock()
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "El envío cuesta $5 🚚"}},
		}},
		StopReason: brtypes.StopReasonEndTurn,
	}, nil
}

func TestBedrockReplyUsesConfiguredModel(t *testing.T) {
	api := &recordingConverse{}
	prev := newBedrockAPI
	newBedrockAPI = func(aws.Config) conversation.BedrockConverseAPI { return api }
	t.Cleanup(func() { newBedrockAPI = prev })

	cfg := testConfig("http://127.0.0.1:0")
	cfg.GeminiModelID = "gemini-pro"
	cfg.BedrockModelID = "anthropic.claude-3-haiku"
	awsCfg := aws.Config{Region: "us-east-1"}

	llm, _, err := BuildLLMClient(context.Background(), cfg, &awsCfg, logging.New("error"))
	require.NoError(t, err)

	p, err := BuildPipeline(cfg, Deps{LLM: llm, Registerer: prometheus.NewRegistry()}, logging.New("error"))
	require.NoError(t, err)
	t.Cleanup(p.Close)

	text := "¿Cuánto cuesta el envío?"
	reply := p.Generator.Generate(context.Background(), text, bots.Configuration{ID: "default"}.WithDefaults(), "", conversation.Classify(text))
	assert.Equal(t, conversation.SourceModel, reply.Source)
	assert.Equal(t, []string{"anthropic.claude-3-haiku"}, api.models)
}
