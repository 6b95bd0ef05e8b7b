package conversation

import (
	"math/rand"
	"sync"
	"time"
)

var (
	welcomeTemplates = []string{
		"¡Hola! 👋 Soy tu Aliado virtual. ¿En qué puedo ayudarte hoy?",
		"¡Bienvenido! 🎉 Estoy aquí para asistirte. ¿Qué necesitas?",
		"¡Hola! 😊 Soy el asistente de este negocio. ¿Cómo puedo ayudarte?",
	}
	notUnderstoodTemplates = []string{
		"No estoy seguro de entender. ¿Podrías explicarlo de otra manera? 🤔",
		"Disculpa, no logré procesar tu mensaje. ¿Puedes ser más específico? 🙏",
		"No entiendo bien lo que necesitas. ¿Podrías darme más detalles? 💬",
	}
	technicalErrorTemplates = []string{
		"Disculpa, hay un problema técnico. Estoy trabajando en solucionarlo... ⚠️",
		"Algo salió mal de mi lado. Un momento por favor... 🔧",
		"Error temporal. Estoy comunicándome con mi equipo técnico... 🚀",
	}
	handoffTemplates = []string{
		"Estoy derivando tu consulta a nuestro equipo humano para una mejor atención 👥",
		"Un especialista te contactará pronto para ayudarte mejor 🤝",
		"Tu consulta requiere atención personalizada. Te conectamos con un experto ✨",
	}
)

// Canned replies used when the model cannot answer. Intents without an
// entry fall back to a random welcome line.
var intentFallbacks = map[IntentType]string{
	IntentGreeting:     "¡Hola! 👋 ¿En qué puedo ayudarte?",
	IntentPricing:      "Permíteme consultar los precios actualizados. Un especialista te contactará pronto 💰",
	IntentAvailability: "Verificando disponibilidad... Te confirmo en un momento ⏰",
	IntentComplaint:    "Entiendo tu preocupación. Estoy conectando con nuestro equipo para solucionarlo 🔧",
	IntentGoodbye:      "¡Hasta pronto! Estamos aquí cuando nos necesites 👋",
}

const (
	optionsPrompt     = "¿Te puedo ayudar con información sobre productos, precios o tienes alguna consulta? 🤔"
	imagePlaceholder  = "[Imagen enviada]"
	unknownTypeName   = "desconocido"
	EmergencyFallback = "Disculpa, hay un problema técnico temporal. Estamos trabajando en solucionarlo... 🔧"
)

// picker draws template lines. rand.Rand is not safe for concurrent use.
type picker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newPicker(rng *rand.Rand) *picker {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &picker{rng: rng}
}

func (p *picker) pick(options []string) string {
	if len(options) == 0 {
		return ""
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return options[p.rng.Intn(len(options))]
}

func (p *picker) fallbackFor(intent Intent) string {
	if line, ok := intentFallbacks[intent.Type]; ok {
		return line
	}
	return p.pick(welcomeTemplates)
}

func imageAcknowledgement(caption string) string {
	if caption != "" {
		return `📷 He recibido tu imagen con el mensaje: "` + caption + `". ¿En qué puedo ayudarte específicamente?`
	}
	return "📷 He recibido tu imagen. ¿En qué puedo ayudarte específicamente?"
}

func imageHistoryEntry(caption string) string {
	if caption != "" {
		return imagePlaceholder + ": " + caption
	}
	return imagePlaceholder
}

func unsupportedReply(messageType string) string {
	if messageType == "" {
		messageType = unknownTypeName
	}
	return `Lo siento, aún no puedo procesar mensajes de tipo "` + messageType + `". ¿Puedes enviarme un mensaje de texto? 📝`
}
