// Package audit keeps an append-only record of pipeline decisions that an
// operator may need to review: human handoffs and abandoned deliveries.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/aliado-ai-platform/internal/channels/whatsapp"
	"github.com/wolfman30/aliado-ai-platform/internal/conversation"
)

// EventType represents the kind of audited event.
type EventType string

const (
	// EventHandoff is logged when a conversation is escalated to a human.
	EventHandoff EventType = "pipeline.handoff"
	// EventDeliveryAbandoned is logged when the deferred queue gives up on a message.
	EventDeliveryAbandoned EventType = "delivery.abandoned"
)

// Event is an immutable audit record.
type Event struct {
	ID          string          `json:"id"`
	EventType   EventType       `json:"event_type"`
	BotID       string          `json:"bot_id,omitempty"`
	UserID      string          `json:"user_id"`
	UserMessage string          `json:"user_message,omitempty"`
	Details     json.RawMessage `json:"details,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Details contains event-specific fields.
type Details struct {
	// For handoffs
	Intent     string  `json:"intent,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Priority   string  `json:"priority,omitempty"`

	// For abandoned deliveries
	MessageType string `json:"message_type,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Retries     int    `json:"retries,omitempty"`
	QueuedAt    string `json:"queued_at,omitempty"`
}

// Service writes audit events to Postgres.
type Service struct {
	db  *sql.DB
	now func() time.Time
}

// NewService creates a new audit service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

var _ conversation.HandoffAuditor = (*Service)(nil)

// LogEvent records an audit event.
func (s *Service) LogEvent(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}

	query := `
		INSERT INTO pipeline_audit_events (
			id, event_type, bot_id, user_id, user_message, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		nullString(event.BotID),
		event.UserID,
		nullString(event.UserMessage),
		event.Details,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to log event: %w", err)
	}
	return nil
}

// RecordHandoff logs a human handoff.
func (s *Service) RecordHandoff(ctx context.Context, evt conversation.HandoffEvent) error {
	detailsJSON, _ := json.Marshal(Details{
		Intent:     string(evt.Intent.Type),
		Confidence: evt.Intent.Confidence,
		Priority:   evt.Intent.Priority.String(),
	})

	return s.LogEvent(ctx, Event{
		EventType:   EventHandoff,
		BotID:       evt.BotID,
		UserID:      evt.UserID,
		UserMessage: evt.Message,
		Details:     detailsJSON,
		CreatedAt:   evt.OccurredAt,
	})
}

// RecordAbandoned logs an outbound message the deferred queue dropped.
func (s *Service) RecordAbandoned(ctx context.Context, msg whatsapp.QueuedMessage, reason string) error {
	detailsJSON, _ := json.Marshal(Details{
		MessageType: string(msg.Type),
		Reason:      reason,
		Retries:     msg.Retries,
		QueuedAt:    msg.QueuedAt.UTC().Format(time.RFC3339),
	})

	return s.LogEvent(ctx, Event{
		EventType: EventDeliveryAbandoned,
		UserID:    msg.Payload.To,
		Details:   detailsJSON,
	})
}

// Filter specifies criteria for querying audit events.
type Filter struct {
	UserID    string
	BotID     string
	EventType EventType
	StartTime time.Time
	Limit     int
}

// QueryEvents retrieves audit events for one user, newest first.
func (s *Service) QueryEvents(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT id, event_type, bot_id, user_id, user_message, details, created_at
		FROM pipeline_audit_events
		WHERE user_id = $1
	`
	args := []any{filter.UserID}
	argIdx := 2

	if filter.BotID != "" {
		query += fmt.Sprintf(" AND bot_id = $%d", argIdx)
		args = append(args, filter.BotID)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var botID, userMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.EventType, &botID, &e.UserID, &userMsg, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: failed to scan event: %w", err)
		}
		e.BotID = botID.String
		e.UserMessage = userMsg.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: failed to read events: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
