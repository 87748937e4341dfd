package attachment

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mail-archive-search/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestSanitizeFilenameHostileInput(t *testing.T) {
	got := SanitizeFilename("../../evil:name?.pdf", MaxNameLength)
	assert.NotContains(t, got, "/")
	assert.NotContains(t, got, `\`)
	assert.NotContains(t, got, ":")
	assert.NotContains(t, got, "?")
	assert.LessOrEqual(t, len(got), MaxNameLength)
	assert.True(t, strings.HasSuffix(got, ".pdf"))

	stored := StoredName(3, time.UnixMilli(1700000000000), "../../evil:name?.pdf")
	assert.True(t, strings.HasPrefix(stored, "003_1700000000000_"))
	assert.NotContains(t, stored, "/")
	assert.NotContains(t, stored, ":")
	assert.NotContains(t, stored, "?")
	assert.LessOrEqual(t, len(stored), MaxNameLength)
}

func TestSanitizeFilenameControlAndEmpty(t *testing.T) {
	assert.Equal(t, "report.docx", SanitizeFilename("re\x00po\x1frt.docx", 0))
	assert.Equal(t, "attachment", SanitizeFilename("...", 0))
	assert.Equal(t, "attachment", SanitizeFilename("", 0))
}

func TestSanitizeFilenameTruncatesKeepingExtension(t *testing.T) {
	long := strings.Repeat("ä", 200) + ".xlsx"
	got := SanitizeFilename(long, MaxNameLength)
	assert.LessOrEqual(t, len(got), MaxNameLength)
	assert.True(t, strings.HasSuffix(got, ".xlsx"))
	assert.True(t, strings.HasPrefix(got, "ää"))

	stored := StoredName(12, time.Now(), long)
	assert.LessOrEqual(t, len(stored), MaxNameLength)
	assert.True(t, strings.HasSuffix(stored, ".xlsx"))
}

func TestSanitizeExtracted(t *testing.T) {
	in := "Account\x00 number:  ████████ \n\n\n\n\nBalance\t\t due ■■■ now"
	got := SanitizeExtracted(in, 0)
	assert.Equal(t, "Account number: [REDACTED]\n\nBalance due [REDACTED] now", got)

	capped := SanitizeExtracted(strings.Repeat("x", 50), 10)
	assert.Equal(t, strings.Repeat("x", 10), capped)
}

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s := NewStorage(t.TempDir(), NewExtractor(0, nil), nil)
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return s
}

func TestStagingCommitAndReconcile(t *testing.T) {
	s := newTestStorage(t)
	st := s.Stage("imp-1", "entry-000001")

	n, err := st.Spool(0, strings.NewReader("quarterly numbers"))
	require.NoError(t, err)
	assert.EqualValues(t, 17, n)

	ref, err := st.Commit(0, Meta{Name: "notes.txt", MimeType: "text/plain"})
	require.NoError(t, err)
	assert.Equal(t, "000_1700000000000_notes.txt", ref.StoredName)
	assert.Equal(t, ".staging/imp-1/entry-000001/000_1700000000000_notes.txt", ref.RelativePath)
	assert.EqualValues(t, 17, ref.Size)
	assert.Equal(t, "quarterly numbers", ref.ExtractedText)

	refs, err := s.Reconcile("imp-1", "entry-000001", "42", []models.AttachmentRef{ref})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "mail_42/000_1700000000000_notes.txt", refs[0].RelativePath)

	f, err := s.Open("42", refs[0].StoredName)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "quarterly numbers", string(data))

	_, err = os.Stat(filepath.Join(s.Root(), ".staging", "imp-1", "entry-000001"))
	assert.True(t, os.IsNotExist(err))
}

func TestCommitWithoutContent(t *testing.T) {
	s := newTestStorage(t)
	st := s.Stage("imp-1", "entry-000002")

	_, err := st.Commit(1, Meta{Name: "ghost.pdf"})
	assert.ErrorIs(t, err, ErrMissingContent)
}

func TestOpenRejectsTraversal(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.Open("1", "../secret")
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = s.Open("1", ".part-000")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestDiscardRemovesStaging(t *testing.T) {
	s := newTestStorage(t)
	st := s.Stage("imp-2", "entry-000001")
	_, err := st.Spool(0, strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, st.Discard())
	require.NoError(t, s.CleanupImport("imp-2"))

	_, err = os.Stat(filepath.Join(s.Root(), ".staging", "imp-2"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtractDOCX(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>First paragraph</w:t></w:r></w:p>
<w:p><w:r><w:t>Second</w:t><w:tab/><w:t>column</w:t></w:r></w:p>
</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	got := NewExtractor(0, nil).Extract("memo.docx", "", buf.Bytes())
	assert.Equal(t, "First paragraph\nSecond column", got)
}

func TestExtractSpreadsheet(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Item"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "Amount"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "Invoice 7"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 120))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	got := NewExtractor(0, nil).Extract("totals.xlsx", "", buf.Bytes())
	assert.Contains(t, got, "## Sheet: Sheet1")
	assert.Contains(t, got, "Item,Amount")
	assert.Contains(t, got, "Invoice 7,120")
}

func TestExtractEML(t *testing.T) {
	raw := "From: Frank <frank@example.com>\r\nSubject: Contract\r\nContent-Type: text/plain; charset=utf-8\r\n\r\nPlease sign by Friday.\r\n"
	got := NewExtractor(0, nil).Extract("fwd.eml", "message/rfc822", []byte(raw))
	assert.Contains(t, got, "Subject: Contract")
	assert.Contains(t, got, "Please sign by Friday.")
}

func TestExtractHTMLAndPlain(t *testing.T) {
	e := NewExtractor(0, nil)
	assert.Equal(t, "Hello team", e.Extract("page.htm", "", []byte("<html><body><p>Hello <b>team</b></p></body></html>")))

	gbk, err := simplifiedchinese.GBK.NewEncoder().String("会议纪要")
	require.NoError(t, err)
	got := e.Extract("minutes.txt", "", []byte(gbk))
	assert.NotContains(t, got, "�")
	assert.NotEmpty(t, got)
}

func TestExtractByMimeAndUnknown(t *testing.T) {
	e := NewExtractor(0, nil)
	assert.Equal(t, "body", e.Extract("blob", "text/plain; charset=utf-8", []byte("body")))
	assert.Empty(t, e.Extract("image.png", "image/png", []byte{0x89, 'P', 'N', 'G'}))
	assert.Empty(t, e.Extract("broken.pdf", "", []byte("not a pdf")))
}
