package whatsapp

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxTextLength is the longest text body WhatsApp accepts in one message.
const MaxTextLength = 4096

// SplitText breaks text into chunks of at most limit runes, cutting at sentence
// boundaries (".", "!", "?") and keeping the punctuation. A single sentence
// longer than limit is cut at the last space that fits, or hard at limit.
func SplitText(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxTextLength
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
		curLen = 0
	}

	for _, sentence := range splitSentences(text) {
		n := utf8.RuneCountInString(sentence)
		if n > limit {
			flush()
			chunks = append(chunks, hardSplit(sentence, limit)...)
			continue
		}
		if curLen > 0 && curLen+1+n > limit {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(sentence)
		curLen += n
	}
	flush()
	return chunks
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func splitSentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		j := i + 1
		for j < len(runes) && isTerminator(runes[j]) {
			j++
		}
		if j < len(runes) && !unicode.IsSpace(runes[j]) {
			i = j - 1
			continue
		}
		if s := strings.TrimSpace(string(runes[start:j])); s != "" {
			out = append(out, s)
		}
		start = j
		i = j - 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func hardSplit(sentence string, limit int) []string {
	runes := []rune(sentence)
	var out []string
	for len(runes) > limit {
		cut := limit
		for k := limit; k > limit/2; k-- {
			if unicode.IsSpace(runes[k]) {
				cut = k
				break
			}
		}
		if s := strings.TrimSpace(string(runes[:cut])); s != "" {
			out = append(out, s)
		}
		runes = []rune(strings.TrimLeftFunc(string(runes[cut:]), unicode.IsSpace))
	}
	if s := strings.TrimSpace(string(runes)); s != "" {
		out = append(out, s)
	}
	return out
}
