// Package archive writes expired conversations to S3 with personal data
// scrubbed, keeping a monthly JSONL manifest next to them.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/wolfman30/aliado-ai-platform/internal/conversation"
	"github.com/wolfman30/aliado-ai-platform/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store archives conversation records to one bucket.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
	now      func() time.Time
	newID    func() string
}

// NewStore creates an archive Store. With an empty bucket every operation is a no-op.
func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		bucket:   strings.TrimSpace(bucket),
		s3Client: s3Client,
		logger:   logger.Component("archive"),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// Enabled reports whether a bucket and client are configured.
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// Record converts a swept conversation into its archived form.
func (s *Store) Record(c conversation.Context) *ConversationRecord {
	now := s.now()
	rec := &ConversationRecord{
		Version:         recordVersion,
		ConversationID:  s.newID(),
		PhoneHash:       HashPhone(c.UserID),
		StartedAt:       c.StartTime,
		LastActivity:    c.LastActivity,
		ArchivedAt:      now,
		DurationSeconds: int(c.LastActivity.Sub(c.StartTime).Seconds()),
		MessageCount:    len(c.Messages),
		TotalMessages:   c.TotalMessages,
		Outcome:         OutcomeExpired,
		Priority:        c.Flags.Priority.String(),
		Complaint:       c.Flags.Complaint,
		PricingInterest: c.Flags.InterestedInPricing,
		Messages:        make([]Message, 0, len(c.Messages)),
	}
	if c.Flags.NeedsHuman {
		rec.Outcome = OutcomeHandedOff
	}
	for _, m := range c.Messages {
		role := "user"
		if m.FromBot {
			role = "assistant"
		}
		rec.Messages = append(rec.Messages, Message{Role: role, Content: ScrubPII(m.Text), Timestamp: m.Timestamp})
	}
	return rec
}

// ArchiveExpired is the conversation store's expire hook. Empty conversations
// are skipped; failures are logged.
func (s *Store) ArchiveExpired(ctx context.Context, c conversation.Context) {
	if !s.Enabled() || len(c.Messages) == 0 {
		return
	}
	if err := s.ArchiveConversation(ctx, s.Record(c)); err != nil {
		s.logger.Error("failed to archive conversation", "error", err)
	}
}

// ArchiveConversation writes record as JSON and appends it to the manifest.
func (s *Store) ArchiveConversation(ctx context.Context, record *ConversationRecord) error {
	if !s.Enabled() {
		return nil
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("archive: marshal record: %w", err)
	}

	at := record.ArchivedAt
	if at.IsZero() {
		at = s.now()
	}
	key := fmt.Sprintf("conversations/v1/by-date/%d/%02d/%02d/%s.json",
		at.Year(), at.Month(), at.Day(), record.ConversationID)

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", key, err)
	}
	s.logger.Info("archived conversation",
		"conversation_id", record.ConversationID,
		"s3_key", key,
		"message_count", record.MessageCount,
		"outcome", record.Outcome,
	)

	entry := ManifestEntry{
		ConversationID: record.ConversationID,
		S3Key:          key,
		Outcome:        record.Outcome,
		ArchivedAt:     at.Format(time.RFC3339),
		MessageCount:   record.MessageCount,
	}
	if err := s.appendManifest(ctx, at, entry); err != nil {
		s.logger.Warn("failed to append manifest", "error", err, "conversation_id", record.ConversationID)
	}
	return nil
}

// appendManifest read-modify-writes the monthly manifest, S3 having no append.
func (s *Store) appendManifest(ctx context.Context, at time.Time, entry ManifestEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}
	key := fmt.Sprintf("conversations/v1/manifests/%d-%02d.jsonl", at.Year(), at.Month())

	var existing []byte
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		existing, err = io.ReadAll(out.Body)
		_ = out.Body.Close()
		if err != nil {
			return fmt.Errorf("archive: read manifest: %w", err)
		}
	case isNotFound(err):
	default:
		return fmt.Errorf("archive: get manifest: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(existing)
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		buf.WriteByte('\n')
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	return errors.As(err, &nsk)
}
