package services

import (
	"testing"

	"mail-archive-search/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractEventsLocal(t *testing.T) {
	cases := []struct {
		name     string
		subject  string
		body     string
		date     string
		time     string
		location string
	}{
		{"iso with clock", "Status", "Project review meeting on 2024-05-02 at 10:30 am", "2024-05-02", "10:30", ""},
		{"month name", "Reminder", "Deadline: March 5, 2024", "2024-03-05", "", ""},
		{"date on next line", "Sync", "Call scheduled\n12 Jan 2025, 3 pm", "2025-01-12", "15:00", ""},
		{"slash month first with room", "Ops", "Meeting 04/15/2024 14:00 in Conference Room B2", "2024-04-15", "14:00", "Conference Room B2"},
		{"slash day first", "Ops", "meeting 25/12/2024", "2024-12-25", "", ""},
		{"labeled location", "Offsite", "Workshop 2024-09-10\nLocation: Harbour Hotel", "2024-09-10", "", "Harbour Hotel"},
		{"noon", "Lunch talk", "presentation 2024-02-01 12pm", "2024-02-01", "12:00", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events := ExtractEventsLocal(&models.Mail{ID: "m1", Subject: tc.subject, Body: tc.body})
			require.Len(t, events, 1)
			ev := events[0]
			assert.Equal(t, tc.date, ev.Date)
			assert.Equal(t, tc.time, ev.Time)
			assert.Equal(t, tc.location, ev.Location)
			assert.Equal(t, "m1", ev.MailID)
			assert.Equal(t, models.EventSourceRegex, ev.Source)
			assert.NotEmpty(t, ev.Title)
		})
	}
}

func TestExtractEventsLocalNothing(t *testing.T) {
	for _, body := range []string{
		"Lunch 2024-05-02",
		"meeting sometime next week",
		"meeting 2024-02-30",
		"",
	} {
		assert.Empty(t, ExtractEventsLocal(&models.Mail{Subject: "x", Body: body}), body)
	}
}

func TestExtractEventsLocalDeduplicates(t *testing.T) {
	events := ExtractEventsLocal(&models.Mail{
		Subject: "Review 2024-05-02",
		Body:    "The review is on 2024-05-02.\nPlease prepare.",
	})
	require.Len(t, events, 1)
	assert.Equal(t, "Review 2024-05-02", events[0].Title)
}

func TestFindDatePrefersEarliest(t *testing.T) {
	date, ok := findDate("moved from March 3, 2024 to 2024-03-10")
	require.True(t, ok)
	assert.Equal(t, "2024-03-03", date)
}

func TestTo24(t *testing.T) {
	assert.Equal(t, 0, to24(12, "am"))
	assert.Equal(t, 12, to24(12, "p.m."))
	assert.Equal(t, 21, to24(9, "PM"))
	assert.Equal(t, -1, to24(13, "pm"))
}
