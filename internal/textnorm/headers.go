package textnorm

import (
	"regexp"
	"strings"
)

// DefaultHeaderKeys are the pseudo-header keys that show up pasted at the top
// of message bodies.
var DefaultHeaderKeys = []string{
	"Stage", "From", "To", "Cc", "Bcc", "Sent", "Date", "Subject",
	"Reply Required", "Importance", "Priority", "Sender", "Attachments",
}

const (
	maxHeaderScan      = 15
	minInjectedHeaders = 3
)

// Normalizer strips injected header blocks using a configurable key list.
type Normalizer struct {
	headerLine *regexp.Regexp
}

var defaultNormalizer = NewNormalizer(nil)

// NewNormalizer builds a Normalizer for keys, or DefaultHeaderKeys when keys is empty.
func NewNormalizer(keys []string) *Normalizer {
	if len(keys) == 0 {
		keys = DefaultHeaderKeys
	}
	return &Normalizer{headerLine: headerLinePattern(keys)}
}

// headerLinePattern matches "Key:" at line start. Spaces and hyphens inside a
// key are interchangeable, so "Reply Required" also matches "Reply-Required".
func headerLinePattern(keys []string) *regexp.Regexp {
	alts := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		parts := strings.FieldsFunc(k, func(r rune) bool { return r == ' ' || r == '-' || r == '_' })
		for i, p := range parts {
			parts[i] = regexp.QuoteMeta(p)
		}
		alts = append(alts, strings.Join(parts, `[ _-]?`))
	}
	return regexp.MustCompile(`(?i)^\s*(?:` + strings.Join(alts, "|") + `)\s*:`)
}

// IsHeaderLine reports whether line starts with a known header key.
func (n *Normalizer) IsHeaderLine(line string) bool {
	return n.headerLine.MatchString(line)
}

// StripInjectedHeaderBlock drops a pseudo-header block at the start of text.
// Only blocks of at least three header lines within the first fifteen lines
// are removed; shorter runs are left alone.
func (n *Normalizer) StripInjectedHeaderBlock(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	start := -1
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			start = i
			break
		}
	}
	if start < 0 {
		return text
	}

	count, last := 0, -1
	for i := start; i < len(lines) && i < start+maxHeaderScan; i++ {
		t := strings.TrimSpace(lines[i])
		if t == "" {
			continue
		}
		if !n.headerLine.MatchString(t) {
			break
		}
		count++
		last = i
	}
	if count < minInjectedHeaders {
		return text
	}

	rest := lines[last+1:]
	for len(rest) > 0 && strings.TrimSpace(rest[0]) == "" {
		rest = rest[1:]
	}
	return strings.Join(rest, "\n")
}

// StripInjectedHeaderBlock uses the default header keys.
func StripInjectedHeaderBlock(text string) string {
	return defaultNormalizer.StripInjectedHeaderBlock(text)
}
