package archive

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"mail-archive-search/internal/attachment"
	"mail-archive-search/internal/sender"
	"mail-archive-search/models"
)

// Field aliases accepted by the JSON importer, matched case-insensitively.
var (
	subjectKeys    = []string{"subject", "title"}
	fromKeys       = []string{"from", "sender", "from_address", "sender_email", "author"}
	dateKeys       = []string{"date", "sent", "sent_at", "received", "timestamp"}
	bodyKeys       = []string{"body", "text", "content", "plain", "body_text"}
	htmlKeys       = []string{"html", "body_html", "html_body"}
	importanceKeys = []string{"importance", "priority"}
	labelKeys      = []string{"label", "folder", "category"}
	toKeys         = []string{"to", "recipients"}
	ccKeys         = []string{"cc"}
	headerKeys     = []string{"headers", "transport_headers"}
	attachmentKeys = []string{"attachments", "files"}

	wrapperKeys = []string{"messages", "emails", "mails", "items", "data"}

	attachNameKeys    = []string{"filename", "name", "file_name"}
	attachContentKeys = []string{"content", "data", "content_base64", "base64"}
	attachMimeKeys    = []string{"mime_type", "content_type", "mimetype"}
)

// ParseJSON reads a JSON export: an array of message objects, a single object,
// or an object wrapping the array under one of the usual collection keys.
// Arrays are decoded one element at a time.
func (p *Parser) ParseJSON(ctx context.Context, r io.Reader, opts Options) Result {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	j := &jsonImport{p: p, ctx: ctx, opts: opts, dec: dec}

	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return Result{}
		}
		return fatalResult(fmt.Errorf("%w: %v", ErrOpenArchive, err))
	}

	switch tok {
	case json.Delim('['):
		j.array()
	case json.Delim('{'):
		j.object()
	default:
		return fatalResult(fmt.Errorf("%w: expected an array or object", ErrOpenArchive))
	}
	return j.res
}

type jsonImport struct {
	p    *Parser
	ctx  context.Context
	opts Options
	dec  *json.Decoder
	res  Result
	seq  int
}

// array consumes elements until the closing bracket. Returns false when the
// stream is broken and reading must stop.
func (j *jsonImport) array() bool {
	for j.dec.More() {
		if err := j.ctx.Err(); err != nil {
			j.res.addError("import cancelled: %v", err)
			return false
		}

		j.seq++
		var value any
		if err := j.dec.Decode(&value); err != nil {
			j.res.addError("entry %d: %v", j.seq, err)
			return false
		}
		obj, ok := value.(map[string]any)
		if !ok {
			j.res.addError("entry %d: expected an object, got %s", j.seq, jsonKind(value))
			continue
		}
		j.message(obj)
	}
	if _, err := j.dec.Token(); err != nil {
		j.res.addError("unterminated array: %v", err)
		return false
	}
	return true
}

// object reads a top level object whose opening brace is already consumed.
// A collection key holding an array is streamed; otherwise the object itself
// is the single message.
func (j *jsonImport) object() {
	single := make(map[string]any)
	wrapped := false

	for j.dec.More() {
		tok, err := j.dec.Token()
		if err != nil {
			j.res.addError("malformed object: %v", err)
			return
		}
		key, _ := tok.(string)

		if !wrapped && containsFold(wrapperKeys, key) {
			next, err := j.dec.Token()
			if err != nil {
				j.res.addError("malformed %q: %v", key, err)
				return
			}
			if next == json.Delim('[') {
				wrapped = true
				if !j.array() {
					return
				}
				continue
			}
			// a scalar or object under a collection key is an ordinary field
			value, err := j.finishValue(next)
			if err != nil {
				j.res.addError("malformed %q: %v", key, err)
				return
			}
			single[key] = value
			continue
		}

		var value any
		if err := j.dec.Decode(&value); err != nil {
			j.res.addError("malformed %q: %v", key, err)
			return
		}
		single[key] = value
	}

	if !wrapped {
		j.seq++
		j.message(single)
	}
}

// finishValue completes a value whose first token has been read.
func (j *jsonImport) finishValue(first json.Token) (any, error) {
	if first != json.Delim('{') {
		return first, nil
	}
	obj := make(map[string]any)
	for j.dec.More() {
		tok, err := j.dec.Token()
		if err != nil {
			return nil, err
		}
		var v any
		if err := j.dec.Decode(&v); err != nil {
			return nil, err
		}
		obj[fmt.Sprint(tok)] = v
	}
	if _, err := j.dec.Token(); err != nil {
		return nil, err
	}
	return obj, nil
}

func (j *jsonImport) message(obj map[string]any) {
	key := fmt.Sprintf("entry-%06d", j.seq)
	f := lowerKeys(obj)

	label := f.str(labelKeys...)
	if label == "" {
		label = j.opts.Label
	}
	if label == "" {
		label = "Root"
	}

	raw := rawMessage{
		Subject:    f.str(subjectKeys...),
		Plain:      f.str(bodyKeys...),
		HTML:       f.str(htmlKeys...),
		Date:       f.str(dateKeys...),
		To:         f.str(toKeys...),
		Cc:         f.str(ccKeys...),
		Importance: importanceFromValue(f.first(importanceKeys...)),
		Label:      label,
		Sender:     senderFields(f),
	}

	mail, err := j.p.safeNormalize(raw)
	if err != nil {
		j.res.addError("%s: %v", key, err)
		return
	}
	mail.ImportID = j.opts.ImportID
	mail.StagingKey = key

	if j.p.canSaveAttachments(j.opts) {
		if refs := j.attachments(key, f.first(attachmentKeys...)); len(refs) > 0 {
			mail.Attachments = refs
		}
	}
	j.res.Messages = append(j.res.Messages, mail)
}

func (j *jsonImport) attachments(key string, value any) []models.AttachmentRef {
	list, ok := value.([]any)
	if !ok || len(list) == 0 {
		return nil
	}

	staging := j.p.storage.Stage(j.opts.ImportID, key)
	var refs []models.AttachmentRef
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			j.res.addError("%s: attachment %d: expected an object", key, i)
			continue
		}
		a := lowerKeys(obj)
		meta := attachment.Meta{Name: a.str(attachNameKeys...), MimeType: a.str(attachMimeKeys...)}
		if strings.TrimSpace(meta.Name) == "" {
			meta.Name = fmt.Sprintf("attachment-%d", i)
		}

		if content := a.str(attachContentKeys...); content != "" {
			data, err := decodeBase64(content)
			if err != nil {
				j.res.addError("%s: attachment %d %q: invalid base64 content", key, i, meta.Name)
				continue
			}
			if _, err := staging.Spool(i, bytes.NewReader(data)); err != nil {
				j.res.addError("%s: attachment %d %q: %v", key, i, meta.Name, err)
				continue
			}
		}

		ref, err := staging.Commit(i, meta)
		if err != nil {
			if errors.Is(err, attachment.ErrMissingContent) {
				j.res.addError("%s: attachment %d %q: content missing", key, i, meta.Name)
			} else {
				j.res.addError("%s: attachment %d %q: %v", key, i, meta.Name, err)
			}
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

type jsonFields map[string]any

func lowerKeys(m map[string]any) jsonFields {
	out := make(jsonFields, len(m))
	for k, v := range m {
		lk := strings.ToLower(strings.TrimSpace(k))
		if _, exists := out[lk]; !exists {
			out[lk] = v
		}
	}
	return out
}

func (f jsonFields) first(keys ...string) any {
	for _, k := range keys {
		if v, ok := f[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func (f jsonFields) str(keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(stringify(f[k])); s != "" {
			return s
		}
	}
	return ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := strings.TrimSpace(stringify(item)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		return address(lowerKeys(t))
	default:
		return fmt.Sprint(t)
	}
}

func address(f jsonFields) string {
	name := f.str("name", "display_name")
	email := f.str("email", "address", "smtp")
	switch {
	case name != "" && email != "":
		return fmt.Sprintf("%s <%s>", name, email)
	case name != "":
		return name
	default:
		return email
	}
}

func senderFields(f jsonFields) sender.Fields {
	var fields sender.Fields
	switch v := f.first(fromKeys...).(type) {
	case map[string]any:
		a := lowerKeys(v)
		fields.SenderName = a.str("name", "display_name")
		fields.SenderSMTPAddress = a.str("email", "address", "smtp")
	default:
		fields.SenderName = f.str(fromKeys...)
	}

	switch h := f.first(headerKeys...).(type) {
	case map[string]any:
		keys := make([]string, 0, len(h))
		for k := range h {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\n", k, stringify(h[k]))
		}
		fields.TransportHeaders = []string{b.String()}
	case nil:
	default:
		if s := stringify(h); s != "" {
			fields.TransportHeaders = []string{s}
		}
	}
	return fields
}

func importanceFromValue(v any) string {
	s := strings.ToLower(strings.TrimSpace(stringify(v)))
	switch s {
	case "":
		return models.ImportanceNormal
	case "0", "low", "non-urgent":
		return models.ImportanceLow
	case "2", "high", "urgent", "important":
		return models.ImportanceHigh
	default:
		return models.ImportanceNormal
	}
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)
	if i := strings.Index(s, ";base64,"); i >= 0 {
		s = s[i+len(";base64,"):]
	}
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
