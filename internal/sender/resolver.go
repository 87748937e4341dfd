// Package sender finds the best available sender identity for a message.
package sender

import (
	"regexp"
	"strings"

	"mail-archive-search/internal/textnorm"
)

// Fields are the sender-related values a source message may carry.
type Fields struct {
	SenderName            string
	SenderEmailAddress    string
	SenderSMTPAddress     string
	SentRepresentingName  string
	SentRepresentingEmail string
	SentRepresentingSMTP  string
	TransportHeaders      []string
	PlainBody             string
	HTMLBody              string
}

// Strategy is one named way of finding a sender. It returns "" when it has no answer.
type Strategy struct {
	Name    string
	Extract func(f Fields) string
}

var (
	headerFromRe = regexp.MustCompile(`(?im)^(?:from|sender)[ \t]*:[ \t]*(.+)$`)
	bodyFromRe   = regexp.MustCompile(`(?i)\bfrom[ \t]*:[ \t]*(.+?)[ \t]*(?:\b(?:to|cc|bcc|sent|date|subject|reply[ _-]?required|stage|importance|priority)[ \t]*:|\r?\n|$)`)
)

// DefaultStrategies are tried in order until one yields a non-empty sender.
var DefaultStrategies = []Strategy{
	{Name: "sender_name", Extract: func(f Fields) string { return f.SenderName }},
	{Name: "sent_representing_name", Extract: func(f Fields) string { return f.SentRepresentingName }},
	{Name: "sender_smtp_address", Extract: func(f Fields) string { return f.SenderSMTPAddress }},
	{Name: "sender_email_address", Extract: func(f Fields) string { return f.SenderEmailAddress }},
	{Name: "sent_representing_smtp", Extract: func(f Fields) string { return f.SentRepresentingSMTP }},
	{Name: "sent_representing_email", Extract: func(f Fields) string { return f.SentRepresentingEmail }},
	{Name: "transport_headers", Extract: fromHeaders},
	{Name: "plain_body", Extract: func(f Fields) string { return FromBody(f.PlainBody) }},
	{Name: "html_body", Extract: func(f Fields) string {
		if f.HTMLBody == "" {
			return ""
		}
		return FromBody(textnorm.HTMLToPlainText(f.HTMLBody))
	}},
}

type Resolver struct {
	strategies []Strategy
}

func NewResolver(strategies ...Strategy) *Resolver {
	if len(strategies) == 0 {
		strategies = DefaultStrategies
	}
	return &Resolver{strategies: strategies}
}

// Resolve returns the first non-empty sender and the name of the strategy that found it.
func (r *Resolver) Resolve(f Fields) (string, string) {
	for _, s := range r.strategies {
		if v := clean(s.Extract(f)); v != "" {
			return v, s.Name
		}
	}
	return "", ""
}

func fromHeaders(f Fields) string {
	for _, blob := range f.TransportHeaders {
		if m := headerFromRe.FindStringSubmatch(blob); m != nil {
			if v := clean(m[1]); v != "" {
				return v
			}
		}
	}
	return ""
}

// FromBody extracts the value of a "From:" field written inside body text,
// either on its own line or run together with other fields on one line.
func FromBody(body string) string {
	if body == "" {
		return ""
	}
	for _, m := range bodyFromRe.FindAllStringSubmatch(body, -1) {
		if v := clean(m[1]); v != "" {
			return v
		}
	}
	return ""
}

func clean(s string) string {
	s = textnorm.DecodeText(s)
	return strings.Trim(strings.TrimSpace(s), " \t\"',;")
}
