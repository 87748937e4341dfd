// Package textnorm turns raw message fields into clean plain text: encoding
// recovery, HTML conversion, injected header stripping and whitespace cleanup.
package textnorm

import (
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	xunicode "golang.org/x/text/encoding/unicode"
)

// Candidate is a named legacy encoding tried during recovery.
type Candidate struct {
	Name     string
	Encoding encoding.Encoding
}

// LegacyEncodings is the recovery order after plain UTF-8. Double-byte
// encodings come first because they reject most non-matching input, while the
// single-byte code pages accept almost anything.
var LegacyEncodings = []Candidate{
	{"gbk", simplifiedchinese.GBK},
	{"gb18030", simplifiedchinese.GB18030},
	{"big5", traditionalchinese.Big5},
	{"shift_jis", japanese.ShiftJIS},
	{"euc-kr", korean.EUCKR},
	{"windows-1252", charmap.Windows1252},
	{"windows-1251", charmap.Windows1251},
}

// DecodeText returns s unchanged when it already reads as clean text. Otherwise
// it reinterprets the underlying bytes as UTF-8 and then each legacy encoding,
// returning the first clean candidate. When nothing decodes cleanly the input
// is returned as is.
func DecodeText(s string) string {
	if s == "" || IsClean(s) {
		return s
	}

	raw := underlyingBytes(s)
	if utf8.Valid(raw) && IsClean(string(raw)) {
		return string(raw)
	}

	for _, c := range LegacyEncodings {
		decoded, err := c.Encoding.NewDecoder().Bytes(raw)
		if err != nil {
			continue
		}
		if out := string(decoded); IsClean(out) {
			return out
		}
	}
	return s
}

// DecodeUTF16LE decodes a little-endian UTF-16 buffer, dropping a trailing NUL.
func DecodeUTF16LE(b []byte) string {
	decoded, err := xunicode.UTF16(xunicode.LittleEndian, xunicode.IgnoreBOM).NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return trimNUL(string(decoded))
}

// DecodeString8 decodes an 8-bit string of unknown code page.
func DecodeString8(b []byte) string {
	return DecodeText(trimNUL(string(b)))
}

// IsClean reports whether s is valid UTF-8 without replacement characters or
// control characters other than tab, newline and carriage return.
func IsClean(s string) bool {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError {
			return false
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return false
		}
		i += size
	}
	return true
}

// underlyingBytes recovers the original bytes of s. A valid string made only of
// runes up to U+00FF is a Latin-1 reading of some byte sequence, so it is
// folded back to one byte per rune.
func underlyingBytes(s string) []byte {
	if !utf8.ValidString(s) {
		return []byte(s)
	}
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return []byte(s)
		}
		out = append(out, byte(r))
	}
	return out
}

func trimNUL(s string) string {
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return s
}
