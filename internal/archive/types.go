package archive

import "time"

const recordVersion = "1.0"

// Outcomes recorded for an archived conversation.
const (
	OutcomeHandedOff = "handed_off"
	OutcomeExpired   = "expired"
)

// ConversationRecord is one expired conversation as written to S3.
type ConversationRecord struct {
	Version         string    `json:"version"`
	ConversationID  string    `json:"conversation_id"`
	PhoneHash       string    `json:"phone_hash"`
	StartedAt       time.Time `json:"started_at"`
	LastActivity    time.Time `json:"last_activity"`
	ArchivedAt      time.Time `json:"archived_at"`
	DurationSeconds int       `json:"duration_seconds"`
	MessageCount    int       `json:"message_count"`
	TotalMessages   int       `json:"total_messages"`
	Outcome         string    `json:"outcome"`
	Priority        string    `json:"priority"`
	Complaint       bool      `json:"complaint"`
	PricingInterest bool      `json:"pricing_interest"`
	Messages        []Message `json:"messages"`
}

// Message is a single scrubbed conversation turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	ConversationID string `json:"conversation_id"`
	S3Key          string `json:"s3_key"`
	Outcome        string `json:"outcome"`
	ArchivedAt     string `json:"archived_at"`
	MessageCount   int    `json:"message_count"`
}
