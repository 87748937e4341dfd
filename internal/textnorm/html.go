package textnorm

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// RTFConvertedMarker is left behind by mail clients that convert RTF bodies to HTML.
const RTFConvertedMarker = "<!-- Converted from text/rtf format -->"

var (
	htmlTagRe    = regexp.MustCompile(`(?i)<(html|head|body|div|p|br|table|tr|td|span|font|style|meta|ul|ol|li|h[1-6])[\s>/]`)
	scriptRe     = regexp.MustCompile(`(?is)<(script|style|head)[^>]*>.*?</(script|style|head)>`)
	breakRe      = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/tr|/li|/h[1-6])\s*/?>`)
	anyTagRe     = regexp.MustCompile(`(?s)<[^>]*>`)
	spaceRunRe   = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// LooksLikeHTML reports whether text is markup rather than plain prose.
func LooksLikeHTML(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	lower := strings.ToLower(t)
	if strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html") {
		return true
	}
	if strings.Contains(t, RTFConvertedMarker) {
		return true
	}
	return htmlTagRe.MatchString(t)
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "tr": true, "li": true, "table": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "hr": true, "ul": true, "ol": true,
}

// HTMLToPlainText converts markup to plain text. Parsing failures fall back to
// a regex tag stripper.
func HTMLToPlainText(src string) (out string) {
	if strings.TrimSpace(src) == "" {
		return ""
	}

	defer func() {
		if r := recover(); r != nil {
			out = stripTags(src)
		}
	}()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return stripTags(src)
	}

	doc.Find("script, style, head, img, noscript").Remove()

	var sb strings.Builder
	for _, n := range doc.Selection.Nodes {
		writeText(&sb, n)
	}
	return collapseWhitespace(sb.String())
}

func writeText(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		if n.Data == "td" || n.Data == "th" {
			sb.WriteString(" ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(sb, c)
	}

	if n.Type == html.ElementNode && blockElements[n.Data] {
		sb.WriteString("\n")
	}
}

func stripTags(src string) string {
	s := scriptRe.ReplaceAllString(src, "")
	s = breakRe.ReplaceAllString(s, "\n")
	s = anyTagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return collapseWhitespace(s)
}

// collapseWhitespace squeezes horizontal whitespace, trims each line and keeps
// at most one blank line between paragraphs.
func collapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRunRe.ReplaceAllString(line, " "))
	}
	s = strings.Join(lines, "\n")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
