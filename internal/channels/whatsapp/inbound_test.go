package whatsapp

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleWebhook = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA_ID",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550001111", "phone_number_id": "1065"},
        "contacts": [{"wa_id": "5215512345678", "profile": {"name": "Ana"}}],
        "messages": [
          {"from": "5215512345678", "id": "wamid.1", "timestamp": "1715331600", "type": "text", "text": {"body": "Hola"}},
          {"from": "5215512345678", "id": "wamid.2", "timestamp": "1715331601", "type": "image", "image": {"id": "media-1", "mime_type": "image/jpeg", "caption": "mi pedido"}},
          {"from": "5215512345678", "id": "wamid.3", "timestamp": "1715331602", "type": "button", "button": {"payload": "precios", "text": "Precios"}},
          {"from": "5215512345678", "id": "wamid.4", "timestamp": "1715331603", "type": "interactive", "interactive": {"type": "list_reply", "list_reply": {"id": "list_Servicios_0", "title": "Envíos"}}},
          {"from": "5215512345678", "id": "wamid.5", "timestamp": "1715331604", "type": "audio"}
        ]
      }
    }, {
      "field": "account_update",
      "value": {"messages": [{"from": "x", "id": "ignored", "type": "text", "text": {"body": "no"}}]}
    }]
  }]
}`

func TestExtractAndNormalize(t *testing.T) {
	var event WebhookEvent
	require.NoError(t, json.Unmarshal([]byte(sampleWebhook), &event))

	batches := ExtractMessages(event)
	require.Len(t, batches, 5)
	assert.Equal(t, "1065", batches[0].Metadata.PhoneNumberID)
	assert.Equal(t, "Ana", batches[0].ContactName)

	msgs := make([]InboundMessage, 0, len(batches))
	for _, b := range batches {
		msgs = append(msgs, Normalize(b.Message, b.ContactName))
	}

	text, ok := msgs[0].(TextMessage)
	require.True(t, ok)
	assert.Equal(t, "Hola", text.Body)
	assert.Equal(t, time.Unix(1715331600, 0).UTC(), text.Envelope().Timestamp)
	assert.Equal(t, "Ana", text.Envelope().ContactName)

	img, ok := msgs[1].(ImageMessage)
	require.True(t, ok)
	assert.Equal(t, "mi pedido", img.Caption)
	assert.Equal(t, "media-1", img.MediaID)

	btn, ok := msgs[2].(ButtonReply)
	require.True(t, ok)
	assert.Equal(t, "precios", btn.Payload)

	list, ok := msgs[3].(InteractiveReply)
	require.True(t, ok)
	assert.Equal(t, "list_Servicios_0", list.ReplyID)
	assert.Equal(t, "list_reply", list.Kind)

	unsupported, ok := msgs[4].(UnsupportedMessage)
	require.True(t, ok)
	assert.Equal(t, "audio", unsupported.Envelope().Type)
}

func TestNormalizeMissingBodyIsUnsupported(t *testing.T) {
	msg := Normalize(WebhookMessage{From: "5215512345678", ID: "wamid.x", Type: "text"}, "")
	_, ok := msg.(UnsupportedMessage)
	assert.True(t, ok)
}

func TestExtractIgnoresOtherObjects(t *testing.T) {
	assert.Empty(t, ExtractMessages(WebhookEvent{Object: "instagram"}))
}

func TestIsFromUser(t *testing.T) {
	meta := Metadata{DisplayPhoneNumber: "+1 555 000 1111", PhoneNumberID: "1065"}
	assert.True(t, IsFromUser(WebhookMessage{From: "5215512345678"}, meta))
	assert.False(t, IsFromUser(WebhookMessage{From: "15550001111"}, meta))
	assert.False(t, IsFromUser(WebhookMessage{From: "1065"}, meta))
	assert.False(t, IsFromUser(WebhookMessage{}, meta))
}
