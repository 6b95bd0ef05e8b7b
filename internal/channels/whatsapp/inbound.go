package whatsapp

import (
	"strconv"
	"strings"
	"time"
)

// InboundMessage is a normalized inbound WhatsApp message. Concrete types are
// TextMessage, ImageMessage, ButtonReply, InteractiveReply and UnsupportedMessage.
type InboundMessage interface {
	Envelope() Envelope
	isInbound()
}

// Envelope holds the fields shared by every inbound message.
type Envelope struct {
	ID          string
	From        string
	ContactName string
	Type        string
	Timestamp   time.Time
}

type TextMessage struct {
	Header Envelope
	Body   string
}

type ImageMessage struct {
	Header   Envelope
	MediaID  string
	MimeType string
	Caption  string
}

// ButtonReply is a quick-reply button tap on a template message.
type ButtonReply struct {
	Header  Envelope
	Payload string
	Text    string
}

// InteractiveReply is a tap on an interactive button or list row.
type InteractiveReply struct {
	Header      Envelope
	Kind        string
	ReplyID     string
	Title       string
	Description string
}

// UnsupportedMessage is any message type the pipeline cannot handle (audio, video, location...).
type UnsupportedMessage struct {
	Header Envelope
}

func (m TextMessage) Envelope() Envelope        { return m.Header }
func (m ImageMessage) Envelope() Envelope       { return m.Header }
func (m ButtonReply) Envelope() Envelope        { return m.Header }
func (m InteractiveReply) Envelope() Envelope   { return m.Header }
func (m UnsupportedMessage) Envelope() Envelope { return m.Header }

func (TextMessage) isInbound()        {}
func (ImageMessage) isInbound()       {}
func (ButtonReply) isInbound()        {}
func (InteractiveReply) isInbound()   {}
func (UnsupportedMessage) isInbound() {}

// Normalize decodes a raw webhook message into its typed form. Messages whose
// declared type is missing its body are reported as unsupported.
func Normalize(raw WebhookMessage, contactName string) InboundMessage {
	env := Envelope{
		ID:          raw.ID,
		From:        raw.From,
		ContactName: contactName,
		Type:        raw.Type,
		Timestamp:   parseUnixSeconds(raw.Timestamp),
	}

	switch raw.Type {
	case "text":
		if raw.Text != nil {
			return TextMessage{Header: env, Body: raw.Text.Body}
		}
	case "image":
		if raw.Image != nil {
			return ImageMessage{
				Header:   env,
				MediaID:  raw.Image.ID,
				MimeType: raw.Image.MimeType,
				Caption:  raw.Image.Caption,
			}
		}
	case "button":
		if raw.Button != nil {
			return ButtonReply{Header: env, Payload: raw.Button.Payload, Text: raw.Button.Text}
		}
	case "interactive":
		if raw.Interactive != nil {
			row := raw.Interactive.ButtonReply
			if raw.Interactive.Type == "list_reply" || row == nil {
				row = raw.Interactive.ListReply
			}
			if row != nil {
				return InteractiveReply{
					Header:      env,
					Kind:        raw.Interactive.Type,
					ReplyID:     row.ID,
					Title:       row.Title,
					Description: row.Description,
				}
			}
		}
	}
	return UnsupportedMessage{Header: env}
}

// InboundBatch is one webhook message together with the business metadata it arrived on.
type InboundBatch struct {
	Message     WebhookMessage
	Metadata    Metadata
	ContactName string
}

// ExtractMessages flattens a webhook event into its inbound messages. Only
// whatsapp_business_account events and "messages" changes are considered.
func ExtractMessages(event WebhookEvent) []InboundBatch {
	if event.Object != "whatsapp_business_account" {
		return nil
	}
	var out []InboundBatch
	for _, entry := range event.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			for _, msg := range change.Value.Messages {
				out = append(out, InboundBatch{
					Message:     msg,
					Metadata:    change.Value.Metadata,
					ContactName: contactName(change.Value.Contacts, msg.From),
				})
			}
		}
	}
	return out
}

// IsFromUser reports whether msg was sent by an end user rather than echoed
// from the business number itself.
func IsFromUser(msg WebhookMessage, meta Metadata) bool {
	if msg.From == "" {
		return false
	}
	if msg.From == meta.PhoneNumberID {
		return false
	}
	display := digitsOnly(meta.DisplayPhoneNumber)
	return display == "" || digitsOnly(msg.From) != display
}

func contactName(contacts []Contact, waID string) string {
	for _, c := range contacts {
		if c.WaID == waID {
			return strings.TrimSpace(c.Profile.Name)
		}
	}
	return ""
}

func parseUnixSeconds(raw string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
