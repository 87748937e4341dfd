package attachment

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxNameLength bounds sanitized and stored attachment names, in bytes.
	MaxNameLength = 180
	// DefaultMaxExtractedChars caps extracted attachment text before storage.
	DefaultMaxExtractedChars = 200000
	// RedactedMarker replaces runs of block glyphs in extracted text.
	RedactedMarker = "[REDACTED]"

	hostileChars = `/\:*?"<>|`
	maxExtLength = 16
)

var (
	redactionRe  = regexp.MustCompile(`[\x{2580}-\x{259F}]+|[\x{25A0}\x{25AC}\x{25AE}]{2,}`)
	hSpaceRe     = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	extraLinesRe = regexp.MustCompile(`\n{3,}`)
)

// SanitizeFilename makes an untrusted attachment name safe to use as a single
// path element: separators and reserved characters become "_", control
// characters are dropped and the result is cut to max bytes keeping the extension.
func SanitizeFilename(name string, max int) string {
	if max <= 0 || max > MaxNameLength {
		max = MaxNameLength
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r == utf8.RuneError, unicode.IsControl(r):
			continue
		case strings.ContainsRune(hostileChars, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	s := strings.Trim(b.String(), " .")
	if s == "" {
		s = "attachment"
	}
	return truncateName(s, max)
}

// StoredName builds the collision resistant on-disk name for attachment index.
func StoredName(index int, ts time.Time, name string) string {
	prefix := fmt.Sprintf("%03d_%d_", index, ts.UnixMilli())
	return prefix + SanitizeFilename(name, MaxNameLength-len(prefix))
}

func truncateName(s string, max int) string {
	if len(s) <= max {
		return s
	}
	ext := filepath.Ext(s)
	if len(ext) > maxExtLength || len(ext) >= max {
		ext = ""
	}
	base := cutBytes(strings.TrimSuffix(s, ext), max-len(ext))
	return base + ext
}

// cutBytes shortens s to at most n bytes without splitting a rune.
func cutBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// SanitizeExtracted cleans extracted attachment text before it is stored.
func SanitizeExtracted(text string, maxChars int) string {
	if text == "" {
		return ""
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxExtractedChars
	}

	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.ToValidUTF8(text, "")
	text = redactionRe.ReplaceAllString(text, RedactedMarker)
	text = strings.ReplaceAll(text, "\r\n", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(hSpaceRe.ReplaceAllString(line, " "))
	}
	text = extraLinesRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	text = strings.TrimSpace(text)

	if utf8.RuneCountInString(text) > maxChars {
		runes := []rune(text)
		text = string(runes[:maxChars])
	}
	return text
}
