package ai

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Classification defaults used whenever the model reply cannot be read.
const (
	DefaultClassification = "reference"
	DefaultConfidence     = "low"
)

// Classifications the enrichment prompt offers the model.
var Classifications = []string{"action", "meeting", "reference", "notification", "personal"}

var confidences = map[string]bool{"high": true, "medium": true, "low": true}

// Classification is the structured reply to a classification prompt.
type Classification struct {
	Classification string `json:"classification"`
	Confidence     string `json:"confidence"`
}

// ExtractedEvent is one event object in a model reply.
type ExtractedEvent struct {
	Title    string `json:"title"`
	Date     string `json:"date"`
	Time     string `json:"time,omitempty"`
	Location string `json:"location,omitempty"`
}

var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ExtractJSON returns the first balanced {...} or [...] substring of text.
// Brackets inside JSON strings are ignored. ok is false when none is found.
func ExtractJSON(text string) (string, bool) {
	for start := 0; start < len(text); start++ {
		if text[start] != '{' && text[start] != '[' {
			continue
		}
		if end := balancedEnd(text, start); end > 0 {
			return text[start:end], true
		}
	}
	return "", false
}

// balancedEnd returns the index just past the bracket closing text[start], or -1.
func balancedEnd(text string, start int) int {
	var stack []byte
	inString, escaped := false, false

	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// ParseClassification reads a classification reply. Anything unreadable or
// outside the known values falls back to reference/low.
func ParseClassification(reply string) Classification {
	out := Classification{Classification: DefaultClassification, Confidence: DefaultConfidence}

	raw, ok := ExtractJSON(reply)
	if !ok {
		return out
	}
	var parsed Classification
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return out
	}

	label := strings.ToLower(strings.TrimSpace(parsed.Classification))
	for _, known := range Classifications {
		if label == known {
			out.Classification = label
			break
		}
	}
	if conf := strings.ToLower(strings.TrimSpace(parsed.Confidence)); confidences[conf] {
		out.Confidence = conf
	}
	return out
}

// ParseEvents reads an event-extraction reply. The reply may be a bare array or
// an object with an "events" array. Events without a title or an ISO date are
// dropped; an unreadable reply yields no events.
func ParseEvents(reply string) []ExtractedEvent {
	raw, ok := ExtractJSON(reply)
	if !ok {
		return nil
	}

	var events []ExtractedEvent
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &events); err != nil {
			return nil
		}
	} else {
		var wrapped struct {
			Events []ExtractedEvent `json:"events"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapped); err != nil {
			return nil
		}
		events = wrapped.Events
	}

	out := events[:0]
	for _, ev := range events {
		ev.Title = strings.TrimSpace(ev.Title)
		ev.Date = strings.TrimSpace(ev.Date)
		if ev.Title == "" || !isoDate.MatchString(ev.Date) {
			continue
		}
		ev.Time = strings.TrimSpace(ev.Time)
		ev.Location = strings.TrimSpace(ev.Location)
		out = append(out, ev)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
