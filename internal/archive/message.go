package archive

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"mail-archive-search/internal/attachment"
	"mail-archive-search/internal/sender"
	"mail-archive-search/internal/textnorm"
	"mail-archive-search/models"
)

// rawMessage is the source view of one entry before normalization.
type rawMessage struct {
	Subject    string
	Plain      string
	HTML       string
	Date       string
	To         string
	Cc         string
	Importance string
	Label      string
	Sender     sender.Fields
}

var headerDateRe = regexp.MustCompile(`(?im)^date[ \t]*:[ \t]*(.+?)[ \t]*$`)

// normalize runs body extraction and sender resolution over a raw entry.
func (p *Parser) normalize(raw rawMessage) *models.Mail {
	subject := strings.TrimSpace(textnorm.DecodeText(raw.Subject))
	if subject == "" {
		subject = models.NoSubject
	}

	fields := raw.Sender
	fields.PlainBody = raw.Plain
	fields.HTMLBody = raw.HTML
	from, _ := p.resolver.Resolve(fields)

	importance := raw.Importance
	if importance == "" {
		importance = models.ImportanceNormal
	}

	return &models.Mail{
		Subject:          subject,
		Sender:           from,
		To:               strings.TrimSpace(textnorm.DecodeText(raw.To)),
		Cc:               strings.TrimSpace(textnorm.DecodeText(raw.Cc)),
		Date:             strings.TrimSpace(raw.Date),
		Body:             p.normalizer.ExtractBody(textnorm.RawBody{Plain: raw.Plain, HTML: raw.HTML}),
		Importance:       importance,
		Label:            raw.Label,
		Attachments:      []models.AttachmentRef{},
		EnrichmentStatus: models.EnrichmentPending,
	}
}

// safeNormalize converts a panic during normalization into an error so one
// malformed entry cannot abort the whole archive.
func (p *Parser) safeNormalize(raw rawMessage) (mail *models.Mail, err error) {
	defer func() {
		if r := recover(); r != nil {
			mail, err = nil, fmt.Errorf("normalization failed: %v", r)
		}
	}()
	return p.normalize(raw), nil
}

// messageBuilder accumulates the streams of one compound-document message.
type messageBuilder struct {
	key     string
	label   string
	props   map[uint16]string
	fixed   fixedProps
	staging *attachment.Staging
	refs    []models.AttachmentRef
	failed  error
}

func newMessageBuilder(key, label string) *messageBuilder {
	return &messageBuilder{
		key:   key,
		label: label,
		props: make(map[uint16]string),
	}
}

func (b *messageBuilder) fail(err error) {
	if b.failed == nil {
		b.failed = err
	}
}

func (b *messageBuilder) raw() rawMessage {
	date := ""
	switch {
	case !b.fixed.delivery.IsZero():
		date = b.fixed.delivery.Format(time.RFC3339)
	case !b.fixed.submitted.IsZero():
		date = b.fixed.submitted.Format(time.RFC3339)
	default:
		if m := headerDateRe.FindStringSubmatch(b.props[propTransportHeaders]); m != nil {
			date = m[1]
		}
	}

	var headers []string
	if h := b.props[propTransportHeaders]; h != "" {
		headers = append(headers, h)
	}

	return rawMessage{
		Subject:    b.props[propSubject],
		Plain:      b.props[propBody],
		HTML:       b.props[propBodyHTML],
		Date:       date,
		To:         b.props[propDisplayTo],
		Cc:         b.props[propDisplayCc],
		Importance: importanceFromLevel(b.fixed.importance, b.fixed.hasImport),
		Label:      b.label,
		Sender: sender.Fields{
			SenderName:            b.props[propSenderName],
			SenderEmailAddress:    b.props[propSenderEmail],
			SenderSMTPAddress:     b.props[propSenderSMTPAddress],
			SentRepresentingName:  b.props[propSentRepresentingName],
			SentRepresentingEmail: b.props[propSentRepresentingEmail],
			SentRepresentingSMTP:  b.props[propSentRepresentingSMTP],
			TransportHeaders:      headers,
		},
	}
}

func importanceFromLevel(level int32, ok bool) string {
	if !ok {
		return models.ImportanceNormal
	}
	switch level {
	case 0:
		return models.ImportanceLow
	case 2:
		return models.ImportanceHigh
	default:
		return models.ImportanceNormal
	}
}

// attachmentBuilder accumulates one attachment storage of a message.
type attachmentBuilder struct {
	index       int
	filename    string
	longName    string
	displayName string
	mimeType    string
	size        int64
	embedded    bool
}

func (a *attachmentBuilder) name() string {
	for _, n := range []string{a.longName, a.filename, a.displayName} {
		if strings.TrimSpace(n) != "" {
			return n
		}
	}
	return fmt.Sprintf("attachment-%d", a.index)
}

// commitAttachment finishes one attachment. Missing content is an
// attachment-level error and never fails the message.
func commitAttachment(b *messageBuilder, a *attachmentBuilder, res *Result) {
	if b.staging == nil {
		return
	}
	if a.embedded {
		return
	}
	ref, err := b.staging.Commit(a.index, attachment.Meta{Name: a.name(), MimeType: a.mimeType, DeclaredSize: a.size})
	if err != nil {
		if errors.Is(err, attachment.ErrMissingContent) {
			res.addError("%s: attachment %d %q: content stream missing", b.key, a.index, a.name())
		} else {
			res.addError("%s: attachment %d %q: %v", b.key, a.index, a.name(), err)
		}
		return
	}
	b.refs = append(b.refs, ref)
}
