package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name, in, want string
		ok             bool
	}{
		{"object in prose", `Sure! {"a": 1} hope that helps`, `{"a": 1}`, true},
		{"array first", `[1, {"b": 2}] trailing {"c": 3}`, `[1, {"b": 2}]`, true},
		{"brackets inside strings", `x {"t": "a } b [", "n": [1]} y`, `{"t": "a } b [", "n": [1]}`, true},
		{"escaped quote", `{"t": "say \"}\""}`, `{"t": "say \"}\""}`, true},
		{"unbalanced then balanced", `{ oops ] then {"ok": true}`, `{"ok": true}`, true},
		{"nothing", `no json here`, ``, false},
		{"never closed", `{"a": 1`, ``, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractJSON(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseClassification(t *testing.T) {
	c := ParseClassification("Here you go:\n```json\n{\"classification\": \"Meeting\", \"confidence\": \"HIGH\"}\n```")
	assert.Equal(t, Classification{Classification: "meeting", Confidence: "high"}, c)

	c = ParseClassification(`{"classification": "spaceship", "confidence": "medium"}`)
	assert.Equal(t, Classification{Classification: DefaultClassification, Confidence: "medium"}, c)
}

func TestParseClassificationDefaults(t *testing.T) {
	for _, reply := range []string{"", "I cannot classify this", `{"classification": }`} {
		c := ParseClassification(reply)
		assert.Equal(t, "reference", c.Classification, reply)
		assert.Equal(t, "low", c.Confidence, reply)
	}
}

func TestParseEvents(t *testing.T) {
	reply := `Found these: [
		{"title": " Budget review ", "date": "2024-05-02", "time": "14:00", "location": "Room 4"},
		{"title": "", "date": "2024-05-03"},
		{"title": "Someday", "date": "next week"}
	]`
	events := ParseEvents(reply)
	require.Len(t, events, 1)
	assert.Equal(t, ExtractedEvent{Title: "Budget review", Date: "2024-05-02", Time: "14:00", Location: "Room 4"}, events[0])
}

func TestParseEventsWrappedObject(t *testing.T) {
	events := ParseEvents(`{"events": [{"title": "Launch", "date": "2025-01-10"}]}`)
	require.Len(t, events, 1)
	assert.Equal(t, "Launch", events[0].Title)
}

func TestParseEventsDefaultsToEmpty(t *testing.T) {
	assert.Empty(t, ParseEvents("no events"))
	assert.Empty(t, ParseEvents(`[{"title": 5}]`))
	assert.Empty(t, ParseEvents(`[]`))
}
