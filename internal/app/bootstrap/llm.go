package bootstrap

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/aliado-ai-platform/internal/config"
	"github.com/wolfman30/aliado-ai-platform/internal/conversation"
	"github.com/wolfman30/aliado-ai-platform/pkg/logging"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

var newBedrockAPI = func(cfg aws.Config) conversation.BedrockConverseAPI {
	return bedrockruntime.NewFromConfig(cfg)
}

// BuildLLMClient wires the reply model. Gemini is primary when an API key is
// set, Bedrock serves as fallback (or sole provider) when a model id and an AWS
// config are available. With neither configured it returns a nil client and
// replies come from the fallback templates.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (conversation.LLMClient, io.Closer, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	var bedrock conversation.LLMClient
	if model := strings.TrimSpace(cfg.BedrockModelID); model != "" {
		if awsCfg == nil {
			logger.Warn("bedrock model configured without aws config, skipping", "model", model)
		} else {
			bedrock = conversation.NewBedrockLLMClient(newBedrockAPI(*awsCfg), model)
		}
	}

	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		if bedrock == nil {
			logger.Warn("no ai provider configured, replies will use templates")
			return nil, nopCloser{}, nil
		}
		logger.Info("ai provider configured", "primary", "bedrock", "model", cfg.BedrockModelID)
		return bedrock, nopCloser{}, nil
	}

	gemini, err := conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: %w", err)
	}
	logger.Info("ai provider configured", "primary", "gemini", "model", cfg.GeminiModelID, "fallback", bedrock != nil)
	return conversation.NewFallbackLLMClient(gemini, bedrock, logger.Component("llm")), gemini, nil
}
