package textnorm

import (
	"strings"
)

// RawBody carries the body fields of a message as found in the source.
type RawBody struct {
	Plain string
	HTML  string
}

// ExtractBody picks the best body representation and normalizes it. Plain text
// wins unless it is itself markup; otherwise the HTML field is converted.
func (n *Normalizer) ExtractBody(b RawBody) string {
	plain := DecodeText(b.Plain)

	var text string
	switch {
	case strings.TrimSpace(plain) != "" && !LooksLikeHTML(plain):
		text = plain
	case strings.TrimSpace(plain) != "":
		text = HTMLToPlainText(plain)
	default:
		text = HTMLToPlainText(DecodeText(b.HTML))
	}

	return n.NormalizeBody(text)
}

// NormalizeBody strips an injected header block, trims trailing whitespace on
// every line and collapses runs of blank lines into one.
func (n *Normalizer) NormalizeBody(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = n.StripInjectedHeaderBlock(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r\f\v\u00a0")
	}
	text = strings.Join(lines, "\n")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func ExtractBody(b RawBody) string {
	return defaultNormalizer.ExtractBody(b)
}

func NormalizeBody(text string) string {
	return defaultNormalizer.NormalizeBody(text)
}
