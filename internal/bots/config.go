// Package bots stores the per-bot assistant configuration consumed by the
// WhatsApp pipeline.
package bots

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound indicates no configuration exists for the requested bot.
var ErrNotFound = errors.New("bots: configuration not found")

// Tone selects the reply style instruction given to the model.
type Tone string

const (
	ToneProfessional Tone = "professional"
	ToneFriendly     Tone = "friendly"
	ToneEmpathetic   Tone = "empathetic"
	ToneAggressive   Tone = "aggressive"
)

const (
	DefaultName          = "Aliado Bot"
	DefaultBusinessType  = "General"
	DefaultRole          = "Asistente"
	DefaultTone          = ToneFriendly
	DefaultKnowledgeBase = "Soy un asistente virtual."
)

// Configuration describes one bot. PhoneNumberID and AccessToken, when set,
// override the process-wide WhatsApp credentials for this bot's replies.
type Configuration struct {
	ID            string    `dynamodbav:"botId" json:"id"`
	Name          string    `dynamodbav:"name" json:"name"`
	BusinessType  string    `dynamodbav:"businessType" json:"businessType"`
	Role          string    `dynamodbav:"role" json:"role"`
	Tone          Tone      `dynamodbav:"tone" json:"tone"`
	KnowledgeBase string    `dynamodbav:"knowledgeBase" json:"knowledgeBase"`
	PhoneNumberID string    `dynamodbav:"phoneNumberId,omitempty" json:"phoneNumberId,omitempty"`
	AccessToken   string    `dynamodbav:"accessToken,omitempty" json:"-"`
	NotifyEmail   string    `dynamodbav:"notifyEmail,omitempty" json:"notifyEmail,omitempty"`
	CreatedAt     time.Time `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time `dynamodbav:"updatedAt" json:"updatedAt"`
}

// WithDefaults fills blank fields with the platform defaults.
func (c Configuration) WithDefaults() Configuration {
	c.Name = orDefault(c.Name, DefaultName)
	c.BusinessType = orDefault(c.BusinessType, DefaultBusinessType)
	c.Role = orDefault(c.Role, DefaultRole)
	c.Tone = Tone(strings.ToLower(orDefault(string(c.Tone), string(DefaultTone))))
	c.KnowledgeBase = orDefault(c.KnowledgeBase, DefaultKnowledgeBase)
	return c
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

// Repository persists bot configurations.
type Repository interface {
	Get(ctx context.Context, botID string) (Configuration, error)
	Put(ctx context.Context, cfg Configuration) error
	List(ctx context.Context) ([]Configuration, error)
}
