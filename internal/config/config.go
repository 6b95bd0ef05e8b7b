package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	PublicBaseURL      string
	LogLevel           string
	CORSAllowedOrigins []string
	AdminJWTSecret     string

	// WhatsApp Business (Graph API) defaults, overridable per bot.
	WhatsAppAccessToken    string
	WhatsAppPhoneNumberID  string
	WhatsAppVerifyToken    string
	WhatsAppAppSecret      string
	WhatsAppGraphBaseURL   string
	WhatsAppSendTimeout    time.Duration
	WhatsAppMaxAttempts    int
	WhatsAppRetryBaseDelay time.Duration
	MarkMessagesAsRead     bool

	// Deferred delivery queue
	DeferredFirstDelay   time.Duration
	DeferredRetryDelay   time.Duration
	DeferredMaxRetries   int
	DeferredMaxAge       time.Duration
	QueueCleanupInterval time.Duration

	// Conversation state
	ConversationTTL           time.Duration
	ConversationSweepInterval time.Duration
	DefaultBotID              string

	// AI providers
	GeminiAPIKey   string
	GeminiModelID  string
	BedrockModelID string
	AITimeout      time.Duration

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	BotConfigTable      string
	ArchiveBucket       string

	UseMemoryQueue  bool
	InboundQueueURL string
	WorkerCount     int
	// EmbeddedWorkers runs inbound workers inside the API process. Disable it
	// when cmd/conversation-worker consumes the SQS queue instead.
	EmbeddedWorkers bool

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	DatabaseURL string

	// Handoff e-mail notifications
	SendGridAPIKey     string
	SendGridFromEmail  string
	SendGridFromName   string
	SESFromEmail       string
	HandoffNotifyEmail string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		PublicBaseURL:      strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),

		WhatsAppAccessToken:    getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppPhoneNumberID:  getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
		WhatsAppVerifyToken:    getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		WhatsAppAppSecret:      getEnv("WHATSAPP_APP_SECRET", ""),
		WhatsAppGraphBaseURL:   getEnv("WHATSAPP_GRAPH_BASE_URL", "https://graph.facebook.com/v18.0"),
		WhatsAppSendTimeout:    getEnvAsDuration("WHATSAPP_SEND_TIMEOUT", 10*time.Second),
		WhatsAppMaxAttempts:    getEnvAsInt("WHATSAPP_MAX_ATTEMPTS", 3),
		WhatsAppRetryBaseDelay: getEnvAsDuration("WHATSAPP_RETRY_BASE_DELAY", time.Second),
		MarkMessagesAsRead:     getEnvAsBool("WHATSAPP_MARK_AS_READ", true),

		DeferredFirstDelay:   getEnvAsDuration("DEFERRED_FIRST_DELAY", time.Minute),
		DeferredRetryDelay:   getEnvAsDuration("DEFERRED_RETRY_DELAY", 2*time.Minute),
		DeferredMaxRetries:   getEnvAsInt("DEFERRED_MAX_RETRIES", 5),
		DeferredMaxAge:       getEnvAsDuration("DEFERRED_MAX_AGE", 24*time.Hour),
		QueueCleanupInterval: getEnvAsDuration("QUEUE_CLEANUP_INTERVAL", time.Hour),

		ConversationTTL:           getEnvAsDuration("CONVERSATION_TTL", 30*time.Minute),
		ConversationSweepInterval: getEnvAsDuration("CONVERSATION_SWEEP_INTERVAL", 15*time.Minute),
		DefaultBotID:              getEnv("DEFAULT_BOT_ID", "default"),

		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:  getEnv("GEMINI_MODEL_ID", "gemini-pro"),
		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),
		AITimeout:      getEnvAsDuration("AI_TIMEOUT", 15*time.Second),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		BotConfigTable:      getEnv("BOT_CONFIG_TABLE", ""),
		ArchiveBucket:       getEnv("ARCHIVE_BUCKET", ""),

		UseMemoryQueue:  getEnvAsBool("USE_MEMORY_QUEUE", true),
		InboundQueueURL: getEnv("INBOUND_QUEUE_URL", ""),
		WorkerCount:     getEnvAsInt("WORKER_COUNT", 2),
		EmbeddedWorkers: getEnvAsBool("EMBEDDED_WORKERS", true),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		SendGridAPIKey:     getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:  getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:   getEnv("SENDGRID_FROM_NAME", "Aliado"),
		SESFromEmail:       getEnv("SES_FROM_EMAIL", ""),
		HandoffNotifyEmail: getEnv("HANDOFF_NOTIFY_EMAIL", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blank entries.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
