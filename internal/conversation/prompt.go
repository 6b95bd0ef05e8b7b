package conversation

import (
	"strings"

	"github.com/wolfman30/aliado-ai-platform/internal/bots"
)

const (
	maxReplyRunes   = 160
	truncatedRunes  = 157
	firstTurnMarker = "Primera interacción"
)

var toneInstructions = map[bots.Tone]string{
	bots.ToneProfessional: "Mantén un tono serio y profesional sin emojis excesivos.",
	bots.ToneFriendly:     "Sé amigable y usa emojis moderadamente. Muestra entusiasmo.",
	bots.ToneEmpathetic:   "Sé comprensivo y empático. Escucha activamente.",
	bots.ToneAggressive:   "Enfócate en cerrar ventas rápido. Sé directo pero cortés.",
}

// buildSystemPrompt describes the business, tone and current intent to the model.
func buildSystemPrompt(bot bots.Configuration, intent Intent) string {
	tone := toneInstructions[bot.Tone]
	if tone == "" {
		tone = "Mantén un tono apropiado"
	}

	var b strings.Builder
	b.WriteString(`Eres el asistente virtual de WhatsApp para "` + bot.Name + `".`)
	b.WriteString("\n\nINFORMACIÓN DEL NEGOCIO:\n")
	b.WriteString("- Tipo: " + bot.BusinessType + "\n")
	b.WriteString("- Tu rol: " + bot.Role + "\n")
	b.WriteString("- Tono: " + string(bot.Tone))
	b.WriteString("\n\nCONOCIMIENTO BASE:\n")
	b.WriteString(bot.KnowledgeBase)
	b.WriteString("\n\nINSTRUCCIONES:\n")
	b.WriteString("- Respuestas cortas y directas (máximo 1-2 oraciones)\n")
	b.WriteString("- " + tone + "\n")
	b.WriteString("- Incluye un emoji relevante\n")
	b.WriteString("- Si no sabes algo, deriva al equipo humano\n")
	b.WriteString("- Para precios específicos, indica que un especialista contactará\n")
	b.WriteString("- Prioridad: servicio al cliente y generación de leads")
	b.WriteString("\n\nCONTEXTO ACTUAL:\n")
	b.WriteString("- Intent detectado: " + string(intent.Type) + "\n")
	b.WriteString("- Prioridad: " + intent.Priority.String())
	return b.String()
}

// buildUserPrompt wraps the latest message with the rendered history.
func buildUserPrompt(history, text string) string {
	if strings.TrimSpace(history) == "" {
		history = firstTurnMarker
	}
	return "CONVERSACIÓN PREVIA:\n" + history +
		"\n\nMENSAJE ACTUAL DEL USUARIO:\n" + text +
		"\n\nRESPUESTA (máximo 150 caracteres, incluir emoji apropiado):"
}

// clampReply enforces the WhatsApp-friendly reply length.
func clampReply(text string) string {
	runes := []rune(text)
	if len(runes) <= maxReplyRunes {
		return text
	}
	return string(runes[:truncatedRunes]) + "..."
}
