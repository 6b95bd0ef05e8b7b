package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/wolfman30/aliado-ai-platform/internal/conversation"
	"github.com/wolfman30/aliado-ai-platform/pkg/logging"
)

// HandoffNotifier e-mails operators when a conversation needs a human. A bot's
// NotifyEmail takes precedence over the process-wide recipients.
type HandoffNotifier struct {
	email      EmailSender
	recipients []string
	logger     *logging.Logger
}

var _ conversation.HandoffNotifier = (*HandoffNotifier)(nil)

// NewHandoffNotifier creates a notifier. recipients may be a comma separated list.
func NewHandoffNotifier(email EmailSender, recipients string, logger *logging.Logger) *HandoffNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &HandoffNotifier{
		email:      email,
		recipients: splitRecipients(recipients),
		logger:     logger,
	}
}

// NotifyHandoff sends one e-mail per recipient and reports how many failed.
func (n *HandoffNotifier) NotifyHandoff(ctx context.Context, evt conversation.HandoffEvent) error {
	if n == nil || n.email == nil {
		return nil
	}
	recipients := n.recipients
	if bot := splitRecipients(evt.NotifyEmail); len(bot) > 0 {
		recipients = bot
	}
	if len(recipients) == 0 {
		n.logger.Debug("notify: no handoff recipients configured", "bot_id", evt.BotID)
		return nil
	}

	msg := handoffMessage(evt)
	var failed int
	for _, to := range recipients {
		msg.To = to
		if err := n.email.Send(ctx, msg); err != nil {
			n.logger.Error("notify: failed to send handoff email", "error", err, "to", to, "bot_id", evt.BotID)
			failed++
			continue
		}
		n.logger.Info("notify: handoff email sent", "to", to, "bot_id", evt.BotID, "user_id", evt.UserID)
	}
	if failed > 0 {
		return fmt.Errorf("notify: %d handoff notification(s) failed", failed)
	}
	return nil
}

func handoffMessage(evt conversation.HandoffEvent) EmailMessage {
	who := evt.ContactName
	if who == "" {
		who = evt.UserID
	}
	history := evt.History
	if strings.TrimSpace(history) == "" {
		history = "(sin historial)"
	}
	when := evt.OccurredAt.UTC().Format("2006-01-02 15:04 MST")

	subject := fmt.Sprintf("Atención humana requerida - %s", who)
	body := fmt.Sprintf(`%s necesita hablar con una persona.

Bot: %s (%s)
WhatsApp: %s
Motivo: %s (prioridad %s)
Fecha: %s

Último mensaje:
%s

Historial reciente:
%s`, who, evt.BotName, evt.BotID, evt.UserID, evt.Intent.Type, evt.Intent.Priority, when, evt.Message, history)

	htmlBody := fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2 style="color: #dc2626;">Atención humana requerida</h2>
<p><strong>%s</strong> necesita hablar con una persona.</p>
<table style="border-collapse: collapse; margin: 20px 0;">
  <tr><td style="padding: 8px;"><strong>Bot:</strong></td><td style="padding: 8px;">%s</td></tr>
  <tr><td style="padding: 8px;"><strong>WhatsApp:</strong></td><td style="padding: 8px;"><a href="https://wa.me/%s">%s</a></td></tr>
  <tr><td style="padding: 8px;"><strong>Motivo:</strong></td><td style="padding: 8px;">%s (prioridad %s)</td></tr>
  <tr><td style="padding: 8px;"><strong>Fecha:</strong></td><td style="padding: 8px;">%s</td></tr>
</table>
<blockquote style="border-left: 4px solid #dc2626; padding-left: 12px;">%s</blockquote>
<pre style="background: #f3f4f6; padding: 12px;">%s</pre>
</div>`,
		html.EscapeString(who), html.EscapeString(evt.BotName), evt.UserID, evt.UserID,
		evt.Intent.Type, evt.Intent.Priority, when,
		html.EscapeString(evt.Message), html.EscapeString(history))

	return EmailMessage{Subject: subject, Body: body, HTML: htmlBody}
}

func splitRecipients(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
