package conversation

import (
	"fmt"
	"regexp"
	"strings"
)

// IntentType is the classified purpose of an inbound message.
type IntentType string

const (
	IntentGreeting     IntentType = "greeting"
	IntentQuestion     IntentType = "question"
	IntentPricing      IntentType = "pricing"
	IntentAvailability IntentType = "availability"
	IntentComplaint    IntentType = "complaint"
	IntentCompliment   IntentType = "compliment"
	IntentHumanRequest IntentType = "human_request"
	IntentGoodbye      IntentType = "goodbye"
	IntentGeneral      IntentType = "general"
)

// Priority orders how quickly a conversation needs attention.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "normal"
	}
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "normal":
		*p = PriorityNormal
	case "high":
		*p = PriorityHigh
	case "urgent":
		*p = PriorityUrgent
	default:
		return fmt.Errorf("conversation: unknown priority %q", text)
	}
	return nil
}

// Intent is the classifier's verdict for one message.
type Intent struct {
	Type          IntentType `json:"type"`
	Confidence    float64    `json:"confidence"`
	RequiresHuman bool       `json:"requiresHuman"`
	Priority      Priority   `json:"priority"`
}

const (
	matchedConfidence = 0.8
	generalConfidence = 0.5
)

// wordEnd stands in for a trailing \b, which RE2 only understands for ASCII.
const wordEnd = `(?:[^\p{L}\p{N}_]|$)`

type intentPattern struct {
	intent IntentType
	re     *regexp.Regexp
}

// Checked in order; the first match wins.
var intentPatterns = []intentPattern{
	{IntentHumanRequest, regexp.MustCompile(`\bhumano|\bpersona|\bagente|\boperador|\bhablar con|\batenci[oó]n personal`)},
	{IntentComplaint, regexp.MustCompile(`\bproblema|\bmal(?:o|a|os|as)?\b|\berror|\bfalla|\bno funciona|\breclamo|\bmolest[oa]`)},
	{IntentPricing, regexp.MustCompile(`\bprecio|\bcosto|\bcuesta|\btarifa|\bvalor|\$|\bdinero`)},
	{IntentAvailability, regexp.MustCompile(`\bdisponib|\bstock|\btiene|\bhay\b|\babierto|\bcerrado|\bhorario`)},
	{IntentGreeting, regexp.MustCompile(`^(?:hola|hello|hi\b|buenas|buenos|buen d[ií]a)`)},
	{IntentGoodbye, regexp.MustCompile(`\bad[ií]os|\bchau|\bchao\b|\bbye\b|\bhasta luego|\bhasta pronto|\bnos vemos`)},
	{IntentCompliment, regexp.MustCompile(`\bgracias|\bbuen|\bexcelente|\bperfecto|\bgenial|\bamazing|\bawesome`)},
	{IntentQuestion, regexp.MustCompile(`\?|\bpregunta` + wordEnd + `|\bc[oó]mo` + wordEnd + `|\bqu[eé]` + wordEnd + `|\bcu[aá]ndo` + wordEnd + `|\bd[oó]nde` + wordEnd)},
}

var urgencyPattern = regexp.MustCompile(`\burgente|\br[aá]pido|\bya\b|\bahora\b|\bemergencia`)

// Classify maps free text to an intent. It is pure and safe for concurrent use.
func Classify(text string) Intent {
	normalized := strings.ToLower(strings.TrimSpace(text))
	normalized = strings.TrimLeft(normalized, "¡¿ ")

	result := Intent{
		Type:       IntentGeneral,
		Confidence: generalConfidence,
		Priority:   PriorityNormal,
	}

	for _, p := range intentPatterns {
		if p.re.MatchString(normalized) {
			result.Type = p.intent
			result.Confidence = matchedConfidence
			break
		}
	}

	if result.Type == IntentHumanRequest || result.Type == IntentComplaint {
		result.RequiresHuman = true
		result.Priority = PriorityHigh
	}
	if urgencyPattern.MatchString(normalized) {
		result.Priority = PriorityUrgent
	}
	return result
}
