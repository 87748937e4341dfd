package archive

import (
	"context"
	"fmt"
	"io"
	"strings"

	"mail-archive-search/internal/textnorm"

	"github.com/richardlehane/mscfb"
)

// maxPropertyBytes bounds a single string property read into memory.
const maxPropertyBytes = 16 << 20

type nodeKind int

const (
	kindPending nodeKind = iota // storage not yet known to be a folder or a message
	kindFolder
	kindMessage
	kindAttachment
)

type node struct {
	path string
	name string
	kind nodeKind
	msg  *messageBuilder
	att  *attachmentBuilder
}

// entry is one directory entry in traversal order.
type entry struct {
	Name string
	Path []string
	Dir  bool
	R    io.Reader
}

// walker consumes directory entries in depth-first order. The container only
// offers forward iteration, so the walker keeps an explicit stack of open
// storages and finishes a message as soon as iteration leaves its subtree.
type walker struct {
	p     *Parser
	opts  Options
	res   *Result
	stack []*node
	skip  int // level whose entries are skipped, 0 when none
	seq   int
}

// Parse walks a compound document and returns one mail per message entry.
// Only a container that cannot be opened is fatal; every other failure is
// recorded in Result.Errors and traversal continues.
func (p *Parser) Parse(ctx context.Context, r io.ReaderAt, opts Options) Result {
	doc, err := mscfb.New(r)
	if err != nil {
		return fatalResult(fmt.Errorf("%w: %v", ErrOpenArchive, err))
	}

	w := p.newWalker(opts)
	for {
		if err := ctx.Err(); err != nil {
			w.res.addError("traversal cancelled: %v", err)
			break
		}
		f, err := doc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			w.res.addError("traversal stopped: %v", err)
			break
		}
		w.visit(entry{Name: f.Name, Path: f.Path, Dir: f.FileInfo().IsDir(), R: f})
	}
	return w.finish()
}

func (p *Parser) newWalker(opts Options) *walker {
	label := opts.Label
	if label == "" {
		label = "Root"
	}
	return &walker{
		p:     p,
		opts:  opts,
		res:   &Result{},
		stack: []*node{{path: "", name: label, kind: kindPending}},
	}
}

func (w *walker) finish() Result {
	for len(w.stack) > 0 {
		w.pop()
	}
	return *w.res
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// visit places e by the length of its path alone. The container shares path
// slices between sibling storages, so their elements can be stale.
func (w *walker) visit(e entry) {
	level := len(e.Path)

	if w.skip > 0 {
		if level >= w.skip {
			return
		}
		w.skip = 0
	}

	for len(w.stack)-1 > level {
		w.pop()
	}
	if len(w.stack)-1 != level {
		w.res.addError("entry %s at level %d: parent storage was not visited", e.Name, level)
		return
	}
	top := w.top()
	full := joinPath(top.path, e.Name)

	defer func() {
		if r := recover(); r != nil {
			w.fail(fmt.Errorf("entry %s: %v", full, r))
		}
	}()

	if e.Dir {
		w.openStorage(top, e, full)
	} else {
		w.readStream(top, e)
	}
}

// skipChildren drops the subtree below storage e.
func (w *walker) skipChildren(e entry) { w.skip = len(e.Path) + 1 }

func (w *walker) top() *node { return w.stack[len(w.stack)-1] }

func (w *walker) push(n *node) { w.stack = append(w.stack, n) }

func (w *walker) pop() {
	n := w.top()
	w.stack = w.stack[:len(w.stack)-1]

	switch n.kind {
	case kindAttachment:
		if len(w.stack) > 0 && w.top().kind == kindMessage {
			commitAttachment(w.top().msg, n.att, w.res)
		}
	case kindMessage:
		w.finishMessage(n.msg)
	}
}

// fail marks the innermost open message as broken, or records err directly
// when no message is open.
func (w *walker) fail(err error) {
	for i := len(w.stack) - 1; i >= 0; i-- {
		if w.stack[i].kind == kindMessage {
			w.stack[i].msg.fail(err)
			return
		}
	}
	w.res.addError("%v", err)
}

func isMessageMarker(e entry) bool {
	if e.Dir {
		return strings.HasPrefix(e.Name, attachStoragePref) ||
			strings.HasPrefix(e.Name, recipStoragePref) ||
			e.Name == nameIDStorage
	}
	if e.Name == fixedPropsStream {
		return true
	}
	id, _, ok := parsePropStream(e.Name)
	return ok && id != propDisplayName
}

func (w *walker) openStorage(top *node, e entry, full string) {
	if depth := len(e.Path) + 1; depth > maxDepth(w.opts) {
		w.res.addError("storage %s: deeper than %d levels, skipped", full, maxDepth(w.opts))
		w.skipChildren(e)
		return
	}

	if top.kind == kindPending && isMessageMarker(e) {
		w.becomeMessage(top)
	}

	switch top.kind {
	case kindMessage:
		if idx, ok := attachmentIndex(e.Name); ok {
			w.push(&node{path: full, kind: kindAttachment, att: &attachmentBuilder{index: idx}})
			return
		}
		// recipients and the named property map carry nothing we index
		w.skipChildren(e)
	case kindAttachment:
		if e.Name == embeddedMsgStorage {
			top.att.embedded = true
		}
		w.skipChildren(e)
	default:
		if e.Name == nameIDStorage {
			w.skipChildren(e)
			return
		}
		top.kind = kindFolder
		w.push(&node{path: full, name: e.Name, kind: kindPending})
	}
}

func (w *walker) becomeMessage(n *node) {
	w.seq++
	key := fmt.Sprintf("entry-%06d", w.seq)
	n.kind = kindMessage
	n.msg = newMessageBuilder(key, w.labelFor(n))
	if w.p.canSaveAttachments(w.opts) {
		n.msg.staging = w.p.storage.Stage(w.opts.ImportID, key)
	}
}

// labelFor returns the display name of the folder holding n.
func (w *walker) labelFor(n *node) string {
	for i := len(w.stack) - 1; i >= 0; i-- {
		if w.stack[i] == n {
			continue
		}
		if w.stack[i].kind == kindFolder || i == 0 {
			return w.stack[i].name
		}
	}
	return n.name
}

func (w *walker) readStream(top *node, e entry) {
	if top.kind == kindPending && isMessageMarker(e) {
		w.becomeMessage(top)
	}

	switch top.kind {
	case kindPending, kindFolder:
		if id, typ, ok := parsePropStream(e.Name); ok && id == propDisplayName {
			if s, err := readString(e.R, typ); err == nil && strings.TrimSpace(s) != "" {
				top.name = strings.TrimSpace(s)
			}
		}
	case kindMessage:
		w.readMessageStream(top.msg, e)
	case kindAttachment:
		w.readAttachmentStream(w.stack[len(w.stack)-2].msg, top.att, e)
	}
}

func wantedMessageProp(id uint16) bool {
	switch id {
	case propSubject, propBody, propBodyHTML, propTransportHeaders,
		propSenderName, propSenderEmail, propSenderSMTPAddress,
		propSentRepresentingName, propSentRepresentingEmail, propSentRepresentingSMTP,
		propDisplayTo, propDisplayCc:
		return true
	}
	return false
}

func (w *walker) readMessageStream(b *messageBuilder, e entry) {
	if e.Name == fixedPropsStream {
		data, err := readLimited(e.R, 1<<20)
		if err != nil {
			b.fail(fmt.Errorf("fixed properties: %w", err))
			return
		}
		b.fixed = parseFixedProps(data, messageHeaderLen(len(data)))
		return
	}

	id, typ, ok := parsePropStream(e.Name)
	if !ok || !wantedMessageProp(id) {
		return
	}

	switch typ {
	case ptUnicode, ptString8:
		s, err := readString(e.R, typ)
		if err != nil {
			b.fail(fmt.Errorf("property %04X: %w", id, err))
			return
		}
		b.props[id] = s
	case ptBinary:
		if id != propBodyHTML {
			return
		}
		data, err := readLimited(e.R, maxPropertyBytes)
		if err != nil {
			b.fail(fmt.Errorf("html body: %w", err))
			return
		}
		b.props[id] = textnorm.DecodeText(string(data))
	}
}

func (w *walker) readAttachmentStream(b *messageBuilder, a *attachmentBuilder, e entry) {
	if e.Name == fixedPropsStream {
		if data, err := readLimited(e.R, 1<<20); err == nil {
			a.size = parseFixedProps(data, 8).attachSize
		}
		return
	}

	id, typ, ok := parsePropStream(e.Name)
	if !ok {
		return
	}

	if id == propAttachData {
		if typ != ptBinary || b.staging == nil {
			return
		}
		if _, err := b.staging.Spool(a.index, e.R); err != nil {
			w.res.addError("%s: attachment %d: %v", b.key, a.index, err)
		}
		return
	}

	if typ != ptUnicode && typ != ptString8 {
		return
	}
	s, err := readString(e.R, typ)
	if err != nil {
		return
	}
	switch id {
	case propAttachFilename:
		a.filename = s
	case propAttachLongFilename:
		a.longName = s
	case propDisplayName:
		a.displayName = s
	case propAttachMimeTag:
		a.mimeType = s
	}
}

func (w *walker) finishMessage(b *messageBuilder) {
	if b.failed != nil {
		w.res.addError("%s in %q: %v", b.key, b.label, b.failed)
		if b.staging != nil {
			b.staging.Discard()
		}
		return
	}

	mail, err := w.p.safeNormalize(b.raw())
	if err != nil {
		w.res.addError("%s in %q: %v", b.key, b.label, err)
		if b.staging != nil {
			b.staging.Discard()
		}
		return
	}

	mail.ImportID = w.opts.ImportID
	mail.StagingKey = b.key
	if len(b.refs) > 0 {
		mail.Attachments = b.refs
	}
	w.res.Messages = append(w.res.Messages, mail)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, limit))
}

func readString(r io.Reader, typ uint16) (string, error) {
	data, err := readLimited(r, maxPropertyBytes)
	if err != nil {
		return "", err
	}
	if typ == ptUnicode {
		return textnorm.DecodeUTF16LE(data), nil
	}
	return textnorm.DecodeString8(data), nil
}
