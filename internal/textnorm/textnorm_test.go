package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestDecodeTextCleanIsIdentity(t *testing.T) {
	for _, s := range []string{
		"plain ascii",
		"Grüße aus München",
		"日本語のテキスト",
		"tabs\tand\nnewlines\r\n",
		"",
	} {
		assert.Equal(t, s, DecodeText(s))
	}
}

func TestDecodeTextRecoversGBK(t *testing.T) {
	want := "你好，世界"
	encoded, err := simplifiedchinese.GBK.NewEncoder().String(want)
	require.NoError(t, err)
	require.False(t, IsClean(encoded))

	got := DecodeText(encoded)
	assert.Equal(t, want, got)
	assert.NotContains(t, got, "�")
}

func TestDecodeTextFallsThroughToWindows1252(t *testing.T) {
	assert.Equal(t, "café", DecodeText("caf\xe9"))
}

func TestDecodeTextReturnsOriginalWhenNothingFits(t *testing.T) {
	s := "bell\x07"
	assert.Equal(t, s, DecodeText(s))
}

func TestDecodeUTF16LE(t *testing.T) {
	b := []byte{'H', 0, 'i', 0, 0, 0}
	assert.Equal(t, "Hi", DecodeUTF16LE(b))
}

func TestLooksLikeHTML(t *testing.T) {
	assert.True(t, LooksLikeHTML("<!DOCTYPE html><html><body>x</body></html>"))
	assert.True(t, LooksLikeHTML("Hello<br>world"))
	assert.True(t, LooksLikeHTML(RTFConvertedMarker+"\nsome text"))
	assert.False(t, LooksLikeHTML("a < b and c > d"))
	assert.False(t, LooksLikeHTML("just text"))
}

func TestHTMLToPlainText(t *testing.T) {
	src := `<html><head><title>t</title><style>p{color:red}</style></head>
<body><p>Hello&nbsp;there</p><script>alert(1)</script><img src="x.png"><div>Second   line</div></body></html>`

	got := HTMLToPlainText(src)
	assert.Contains(t, got, "Hello there")
	assert.Contains(t, got, "Second line")
	assert.NotContains(t, got, "alert")
	assert.NotContains(t, got, "color:red")
	assert.NotContains(t, got, "<")
}

func TestStripTagsFallback(t *testing.T) {
	got := stripTags("<style>x{}</style><p>One</p><p>Two &amp; three</p>")
	assert.Equal(t, "One\nTwo & three", got)
}

func TestExtractBodyStripsInjectedHeaders(t *testing.T) {
	body := "Stage: x\nFrom: a@b.com\nTo: c@d.com\nReply Required: yes\n\nHello world"
	assert.Equal(t, "Hello world", ExtractBody(RawBody{Plain: body}))
}

func TestStripInjectedHeaderBlockThreshold(t *testing.T) {
	one := "Subject: lunch\nWe should meet at noon.\nSee you there."
	assert.Equal(t, one, StripInjectedHeaderBlock(one))

	two := "From: a@b.com\nTo: c@d.com\nThanks for the update."
	assert.Equal(t, two, StripInjectedHeaderBlock(two))

	three := "\n\nFrom: a@b.com\nTo: c@d.com\nCc: e@f.com\n\nBody line"
	assert.Equal(t, "Body line", StripInjectedHeaderBlock(three))
}

func TestStripInjectedHeaderBlockOnlyScansTheTop(t *testing.T) {
	text := "Intro paragraph\nFrom: a\nTo: b\nCc: c\nrest"
	assert.Equal(t, text, StripInjectedHeaderBlock(text))
}

func TestNormalizerCustomKeys(t *testing.T) {
	n := NewNormalizer([]string{"Ticket", "Owner", "State"})
	got := n.NormalizeBody("Ticket: 42\nOwner: ops\nState: open\n\nDisk is full")
	assert.Equal(t, "Disk is full", got)
	assert.True(t, n.IsHeaderLine("owner: me"))
	assert.False(t, n.IsHeaderLine("From: me"))
}

func TestExtractBodyPrefersPlainText(t *testing.T) {
	got := ExtractBody(RawBody{Plain: "plain version", HTML: "<p>html version</p>"})
	assert.Equal(t, "plain version", got)

	got = ExtractBody(RawBody{Plain: "<div>markup in plain</div>", HTML: "<p>html version</p>"})
	assert.Equal(t, "markup in plain", got)

	got = ExtractBody(RawBody{HTML: "<p>only html</p>"})
	assert.Equal(t, "only html", got)
}

func TestNormalizeBodyWhitespace(t *testing.T) {
	got := NormalizeBody("  \nfirst   \n\n\n\n\nsecond\t\n\n")
	assert.Equal(t, "first\n\nsecond", got)
}
