package conversation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/aliado-ai-platform/internal/clock"
	"github.com/wolfman30/aliado-ai-platform/pkg/logging"
)

const (
	maxStoredMessages      = 10
	defaultConversationTTL = 30 * time.Minute
)

// Message is one turn held in a conversation's rolling window.
type Message struct {
	Text      string    `json:"text"`
	FromBot   bool      `json:"isBot"`
	Timestamp time.Time `json:"timestamp"`
}

// Flags are the routing markers the pipeline sets while talking to a user.
type Flags struct {
	NeedsHuman          bool     `json:"needsHuman"`
	Complaint           bool     `json:"complaint"`
	Priority            Priority `json:"priority"`
	InterestedInPricing bool     `json:"interestedInPricing"`
}

// Context is a point-in-time copy of one user's conversation state.
type Context struct {
	UserID        string    `json:"userId"`
	Messages      []Message `json:"messages"`
	TotalMessages int       `json:"totalMessages"`
	StartTime     time.Time `json:"startTime"`
	LastActivity  time.Time `json:"lastActivity"`
	Flags         Flags     `json:"flags"`
}

// Summary is the admin listing view of a conversation.
type Summary struct {
	UserID        string    `json:"userId"`
	MessageCount  int       `json:"messageCount"`
	TotalMessages int       `json:"totalMessages"`
	LastActivity  time.Time `json:"lastActivity"`
	NeedsHuman    bool      `json:"needsHuman"`
	Priority      Priority  `json:"priority"`
}

// ContextStore keeps per-user conversation windows in memory and expires
// idle ones.
type ContextStore struct {
	mu      sync.Mutex
	entries map[string]*Context
	ttl     time.Duration
	clock   clock.Clock
	logger  *logging.Logger
	onSweep func(Context)
}

func NewContextStore(clk clock.Clock, logger *logging.Logger) *ContextStore {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ContextStore{
		entries: make(map[string]*Context),
		ttl:     defaultConversationTTL,
		clock:   clk,
		logger:  logger,
	}
}

// WithTTL sets how long a conversation may stay idle before it is swept.
func (s *ContextStore) WithTTL(ttl time.Duration) *ContextStore {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// WithExpireHook registers fn to receive a copy of every swept conversation.
// fn runs after the store lock is released.
func (s *ContextStore) WithExpireHook(fn func(Context)) *ContextStore {
	s.onSweep = fn
	return s
}

// Get returns a copy of the user's conversation, creating it on first
// reference. Every call counts as activity.
func (s *ContextStore) Get(userID string) Context {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.entryLocked(userID, now)
	entry.LastActivity = now
	return entry.clone()
}

// Peek returns a copy of the conversation without creating or touching it.
func (s *ContextStore) Peek(userID string) (Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[userID]
	if !ok {
		return Context{}, false
	}
	return entry.clone(), true
}

// Flags returns the user's current routing flags.
func (s *ContextStore) Flags(userID string) Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[userID]; ok {
		return entry.Flags
	}
	return Flags{}
}

// AddMessage appends a turn, creating the conversation on first use. Only the
// newest maxStoredMessages turns are kept.
func (s *ContextStore) AddMessage(userID, text string, fromBot bool) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.entryLocked(userID, now)
	entry.Messages = append(entry.Messages, Message{Text: text, FromBot: fromBot, Timestamp: now})
	if overflow := len(entry.Messages) - maxStoredMessages; overflow > 0 {
		entry.Messages = append(entry.Messages[:0:0], entry.Messages[overflow:]...)
	}
	entry.TotalMessages++
	entry.LastActivity = now
}

// UpdateFlags applies fn to the user's flags, creating the conversation if needed.
func (s *ContextStore) UpdateFlags(userID string, fn func(*Flags)) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.entryLocked(userID, now)
	fn(&entry.Flags)
	entry.LastActivity = now
}

// RaisePriority records p unless the conversation is already at a higher level.
func (s *ContextStore) RaisePriority(userID string, p Priority) {
	s.UpdateFlags(userID, func(f *Flags) {
		if p > f.Priority {
			f.Priority = p
		}
	})
}

// RecentHistory renders the last n turns as "Usuario: ..." / "Bot: ..." lines.
func (s *ContextStore) RecentHistory(userID string, n int) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[userID]
	if !ok || n <= 0 {
		return ""
	}
	msgs := entry.Messages
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		speaker := "Usuario"
		if m.FromBot {
			speaker = "Bot"
		}
		lines = append(lines, speaker+": "+m.Text)
	}
	return strings.Join(lines, "\n")
}

// SweepExpired drops conversations idle for longer than the TTL and reports
// how many were removed.
func (s *ContextStore) SweepExpired(now time.Time) int {
	s.mu.Lock()
	var expired []Context
	for id, entry := range s.entries {
		if now.Sub(entry.LastActivity) > s.ttl {
			delete(s.entries, id)
			expired = append(expired, entry.clone())
		}
	}
	hook := s.onSweep
	s.mu.Unlock()

	if hook != nil {
		for _, c := range expired {
			hook(c)
		}
	}
	return len(expired)
}

// Run sweeps on every interval until ctx is cancelled.
func (s *ContextStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	clock.Every(ctx, s.clock, interval, func() {
		if n := s.SweepExpired(s.clock.Now()); n > 0 {
			s.logger.Info("expired conversations swept", "removed", n, "active", s.Len())
		}
	})
}

func (s *ContextStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// List returns a summary per active conversation, most recent first.
func (s *ContextStore) List() []Summary {
	s.mu.Lock()
	out := make([]Summary, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, Summary{
			UserID:        entry.UserID,
			MessageCount:  len(entry.Messages),
			TotalMessages: entry.TotalMessages,
			LastActivity:  entry.LastActivity,
			NeedsHuman:    entry.Flags.NeedsHuman,
			Priority:      entry.Flags.Priority,
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

func (s *ContextStore) entryLocked(userID string, now time.Time) *Context {
	entry, ok := s.entries[userID]
	if !ok {
		entry = &Context{
			UserID:       userID,
			Messages:     make([]Message, 0, maxStoredMessages),
			StartTime:    now,
			LastActivity: now,
		}
		s.entries[userID] = entry
	}
	return entry
}

func (c *Context) clone() Context {
	out := *c
	out.Messages = append([]Message(nil), c.Messages...)
	return out
}
