package services

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"mail-archive-search/models"
)

const maxEventTitle = 100

var (
	eventKeyword = regexp.MustCompile(`(?i)\b(meeting|meet|call|conference|appointment|deadline|due|interview|review|webinar|workshop|presentation|scheduled?)\b`)

	isoDatePattern   = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	slashDatePattern = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	monthDayPattern  = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
	dayMonthPattern  = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?,?\s+(\d{4})\b`)

	clockPattern    = regexp.MustCompile(`(?i)\b(\d{1,2}):(\d{2})\s*([ap]\.?m\.?)?`)
	meridiemPattern = regexp.MustCompile(`(?i)\b(\d{1,2})\s*([ap]\.?m\.?)(?:\W|$)`)

	labeledLocation = regexp.MustCompile(`(?i)\b(?:location|where|venue)\s*:\s*([^\n]+)`)
	roomLocation    = regexp.MustCompile(`(?i)\b(?:in|at)\s+((?:conference room|meeting room|room|building|office)\s+[\w-]+)`)
)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "sept": time.September, "oct": time.October,
	"nov": time.November, "dec": time.December,
}

// ExtractEventsLocal finds dated events without a language model: every line
// (the subject counts as the first) that mentions a meeting keyword and
// carries a date on the same or the following line yields an event. Events are
// deduplicated by date and time.
func ExtractEventsLocal(m *models.Mail) []models.Event {
	lines := []string{m.Subject}
	lines = append(lines, strings.Split(m.Body, "\n")...)

	seen := make(map[string]bool)
	var events []models.Event

	for i, line := range lines {
		if !eventKeyword.MatchString(line) {
			continue
		}
		window := line
		if i+1 < len(lines) {
			window += "\n" + lines[i+1]
		}

		date, ok := findDate(window)
		if !ok {
			continue
		}
		clock := findTime(window)

		key := date + " " + clock
		if seen[key] {
			continue
		}
		seen[key] = true

		events = append(events, models.Event{
			MailID:   m.ID,
			Title:    eventTitle(line, m.Subject),
			Date:     date,
			Time:     clock,
			Location: findLocation(window),
			Source:   models.EventSourceRegex,
		})
	}
	return events
}

// findDate returns the first valid date in s as YYYY-MM-DD. Numeric dates with
// slashes are read month first unless the first number cannot be a month.
func findDate(s string) (string, bool) {
	type candidate struct {
		pos        int
		y, mo, day int
	}
	var found []candidate

	for _, m := range isoDatePattern.FindAllStringSubmatchIndex(s, -1) {
		found = append(found, candidate{m[0], atoi(s[m[2]:m[3]]), atoi(s[m[4]:m[5]]), atoi(s[m[6]:m[7]])})
	}
	for _, m := range slashDatePattern.FindAllStringSubmatchIndex(s, -1) {
		a, b := atoi(s[m[2]:m[3]]), atoi(s[m[4]:m[5]])
		if a > 12 {
			a, b = b, a
		}
		found = append(found, candidate{m[0], atoi(s[m[6]:m[7]]), a, b})
	}
	for _, m := range monthDayPattern.FindAllStringSubmatchIndex(s, -1) {
		mo := months[strings.ToLower(s[m[2]:m[3]])]
		found = append(found, candidate{m[0], atoi(s[m[6]:m[7]]), int(mo), atoi(s[m[4]:m[5]])})
	}
	for _, m := range dayMonthPattern.FindAllStringSubmatchIndex(s, -1) {
		mo := months[strings.ToLower(s[m[4]:m[5]])]
		found = append(found, candidate{m[0], atoi(s[m[6]:m[7]]), int(mo), atoi(s[m[2]:m[3]])})
	}

	best := -1
	var out string
	for _, c := range found {
		if best >= 0 && c.pos >= best {
			continue
		}
		if !validDate(c.y, c.mo, c.day) {
			continue
		}
		best = c.pos
		out = fmt.Sprintf("%04d-%02d-%02d", c.y, c.mo, c.day)
	}
	return out, best >= 0
}

func validDate(y, mo, day int) bool {
	if mo < 1 || mo > 12 || day < 1 || y < 1900 {
		return false
	}
	t := time.Date(y, time.Month(mo), day, 0, 0, 0, 0, time.UTC)
	return t.Day() == day && int(t.Month()) == mo
}

// findTime returns the first time of day in s as HH:MM, or "".
func findTime(s string) string {
	type candidate struct {
		pos    int
		h, min int
	}
	var found []candidate

	for _, m := range clockPattern.FindAllStringSubmatchIndex(s, -1) {
		h, min := atoi(s[m[2]:m[3]]), atoi(s[m[4]:m[5]])
		if m[6] >= 0 {
			h = to24(h, s[m[6]:m[7]])
		}
		found = append(found, candidate{m[0], h, min})
	}
	for _, m := range meridiemPattern.FindAllStringSubmatchIndex(s, -1) {
		found = append(found, candidate{m[0], to24(atoi(s[m[2]:m[3]]), s[m[4]:m[5]]), 0})
	}

	best := -1
	var out string
	for _, c := range found {
		if best >= 0 && c.pos >= best {
			continue
		}
		if c.h < 0 || c.h > 23 || c.min < 0 || c.min > 59 {
			continue
		}
		best = c.pos
		out = fmt.Sprintf("%02d:%02d", c.h, c.min)
	}
	return out
}

func to24(h int, meridiem string) int {
	if h < 1 || h > 12 {
		return -1
	}
	pm := strings.HasPrefix(strings.ToLower(meridiem), "p")
	switch {
	case pm && h != 12:
		return h + 12
	case !pm && h == 12:
		return 0
	}
	return h
}

func findLocation(s string) string {
	if m := labeledLocation.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := roomLocation.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func eventTitle(line, subject string) string {
	title := strings.Join(strings.Fields(line), " ")
	if title == "" {
		title = subject
	}
	return truncateText(title, maxEventTitle)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
