package attachment

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"mail-archive-search/internal/logger"
	"mail-archive-search/internal/textnorm"

	"github.com/jhillyerd/enmime"
	"github.com/ledongthuc/pdf"
	"github.com/saintfish/chardet"
	"github.com/xuri/excelize/v2"
	"golang.org/x/net/html/charset"
)

// TextFunc extracts plain text from raw file bytes.
type TextFunc func(data []byte) (string, error)

// maxExtractBytes bounds how much of a stored attachment is read for extraction.
const maxExtractBytes = 100 << 20

var mimeExtensions = map[string]string{
	"application/pdf":    ".pdf",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       ".xlsx",
	"application/vnd.ms-excel.sheet.macroenabled.12":                          ".xlsm",
	"message/rfc822":  ".eml",
	"text/html":       ".html",
	"text/plain":      ".txt",
	"text/csv":        ".csv",
	"application/rtf": ".rtf",
	"text/rtf":        ".rtf",
}

// Extractor dispatches attachment text extraction by extension or MIME type.
type Extractor struct {
	byExt    map[string]TextFunc
	maxChars int
	log      *slog.Logger
}

func NewExtractor(maxChars int, log *slog.Logger) *Extractor {
	e := &Extractor{
		byExt:    make(map[string]TextFunc),
		maxChars: maxChars,
		log:      logger.OrDefault(log),
	}

	e.Register(extractPDF, ".pdf")
	e.Register(extractSpreadsheet, ".xlsx", ".xlsm")
	e.Register(extractDOCX, ".docx")
	e.Register(extractEML, ".eml")
	e.Register(extractHTML, ".html", ".htm")
	e.Register(extractRTF, ".rtf")
	e.Register(extractPlain, ".txt", ".csv", ".md", ".log", ".json", ".xml", ".ics")

	return e
}

// Register binds fn to one or more extensions, replacing any previous binding.
func (e *Extractor) Register(fn TextFunc, exts ...string) {
	for _, ext := range exts {
		e.byExt[strings.ToLower(ext)] = fn
	}
}

// Supports reports whether some extractor handles name or mimeType.
func (e *Extractor) Supports(name, mimeType string) bool {
	_, ok := e.lookup(name, mimeType)
	return ok
}

func (e *Extractor) lookup(name, mimeType string) (TextFunc, bool) {
	if fn, ok := e.byExt[strings.ToLower(filepath.Ext(name))]; ok {
		return fn, true
	}
	if mimeType != "" {
		mt, _, err := mime.ParseMediaType(mimeType)
		if err == nil {
			if ext, ok := mimeExtensions[strings.ToLower(mt)]; ok {
				fn, ok := e.byExt[ext]
				return fn, ok
			}
		}
	}
	return nil, false
}

// Extract returns sanitized text for data, or "" when the format is unknown or
// the extractor fails.
func (e *Extractor) Extract(name, mimeType string, data []byte) (text string) {
	fn, ok := e.lookup(name, mimeType)
	if !ok || len(data) == 0 {
		return ""
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Warn("attachment extractor panicked", "name", name, "panic", r)
			text = ""
		}
	}()

	raw, err := fn(data)
	if err != nil {
		e.log.Debug("attachment text extraction failed", "name", name, "error", err)
		return ""
	}
	return SanitizeExtracted(raw, e.maxChars)
}

// ExtractFile reads a stored attachment and extracts its text.
func (e *Extractor) ExtractFile(path, name, mimeType string) string {
	if _, ok := e.lookup(name, mimeType); !ok {
		return ""
	}

	f, err := os.Open(path)
	if err != nil {
		e.log.Warn("failed to open attachment for extraction", "path", path, "error", err)
		return ""
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxExtractBytes))
	if err != nil {
		e.log.Warn("failed to read attachment for extraction", "path", path, "error", err)
		return ""
	}
	return e.Extract(name, mimeType, data)
}

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to create PDF reader: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		// A single broken page must not lose the rest of the document
		text, err := func() (s string, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("page %d: %v", i, r)
				}
			}()
			fonts := make(map[string]*pdf.Font)
			return page.GetPlainText(fonts)
		}()
		if err != nil {
			continue
		}

		sb.WriteString(text)
		sb.WriteString("\n\n")
	}
	return sb.String(), nil
}

func extractSpreadsheet(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "## Sheet: %s\n", sheet)
		w := csv.NewWriter(&sb)
		if err := w.WriteAll(rows); err != nil {
			return "", err
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open docx: %w", err)
	}

	for _, file := range zr.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()
		return docxParagraphs(rc)
	}
	return "", fmt.Errorf("docx has no word/document.xml")
}

// docxParagraphs streams WordprocessingML, keeping run text and paragraph breaks.
func docxParagraphs(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var sb strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return sb.String(), err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteString("\t")
			case "br", "cr":
				sb.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}

func extractEML(data []byte) (string, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to parse EML: %w", err)
	}

	text := env.Text
	if strings.TrimSpace(text) == "" && env.HTML != "" {
		text = textnorm.HTMLToPlainText(env.HTML)
	}

	var sb strings.Builder
	if subject := env.GetHeader("Subject"); subject != "" {
		sb.WriteString("Subject: " + subject + "\n")
	}
	if from := env.GetHeader("From"); from != "" {
		sb.WriteString("From: " + from + "\n")
	}
	sb.WriteString("\n")
	sb.WriteString(text)
	return sb.String(), nil
}

func extractHTML(data []byte) (string, error) {
	r, err := charset.NewReader(bytes.NewReader(data), "text/html")
	if err != nil {
		return textnorm.HTMLToPlainText(textnorm.DecodeText(string(data))), nil
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return textnorm.HTMLToPlainText(string(decoded)), nil
}

var (
	rtfControlRe = regexp.MustCompile(`\\[a-zA-Z]+-?\d* ?`)
	rtfHexRe     = regexp.MustCompile(`\\'[0-9a-fA-F]{2}`)
)

func extractRTF(data []byte) (string, error) {
	text := rtfHexRe.ReplaceAllString(string(data), "")
	text = rtfControlRe.ReplaceAllString(text, "")
	text = strings.NewReplacer("{", "", "}", "", "\\\\", "\\").Replace(text)
	return text, nil
}

// chardet names that differ from the WHATWG labels known to charset.Lookup
var chardetAliases = map[string]string{
	"GB-18030": "gb18030",
}

func extractPlain(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}

	if res, err := chardet.NewTextDetector().DetectBest(data); err == nil && res.Confidence >= 50 {
		name := res.Charset
		if alias, ok := chardetAliases[name]; ok {
			name = alias
		}
		if enc, _ := charset.Lookup(name); enc != nil {
			if decoded, err := enc.NewDecoder().Bytes(data); err == nil && textnorm.IsClean(string(decoded)) {
				return string(decoded), nil
			}
		}
	}

	return textnorm.DecodeText(string(data)), nil
}
