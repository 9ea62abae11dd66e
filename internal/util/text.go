package util

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// Ad markers stripped from titles, matched case-insensitively.
var adMarkerRe = regexp.MustCompile(`(?i)\[(ad|ads|广告|推广|promoted|sponsored)\]`)

var whitespaceRe = regexp.MustCompile(`\s+`)

// CleanTitle strips control characters, removes ad markers and collapses
// whitespace. Returns "" when nothing readable remains.
func CleanTitle(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, raw)

	cleaned = adMarkerRe.ReplaceAllString(cleaned, "")
	cleaned = whitespaceRe.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}

// TitleFingerprint reduces a title to a dedup key: lowercase with
// punctuation and whitespace removed.
func TitleFingerprint(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// fallbackEncodings tried in order when a payload is not valid UTF-8 and the
// source did not pin an encoding. GB18030 is a superset of GBK/GB2312 which
// covers the mainland portals; Big5 covers the rest.
var fallbackEncodings = []encoding.Encoding{
	simplifiedchinese.GB18030,
	traditionalchinese.Big5,
}

var namedEncodings = map[string]encoding.Encoding{
	"gbk":     simplifiedchinese.GBK,
	"gb2312":  simplifiedchinese.GB18030,
	"gb18030": simplifiedchinese.GB18030,
	"big5":    traditionalchinese.Big5,
}

// DecodeText returns valid UTF-8 for a raw payload. A pinned encoding wins;
// otherwise valid UTF-8 passes through and anything else goes through the
// fallback chain. As a last resort invalid bytes are replaced.
func DecodeText(raw []byte, pinnedEncoding string) string {
	if pinnedEncoding != "" {
		if enc, ok := namedEncodings[strings.ToLower(pinnedEncoding)]; ok {
			if decoded, err := enc.NewDecoder().Bytes(raw); err == nil {
				return string(decoded)
			}
		}
	}

	if utf8.Valid(raw) {
		return string(raw)
	}

	for _, enc := range fallbackEncodings {
		decoded, err := enc.NewDecoder().Bytes(raw)
		if err == nil && utf8.Valid(decoded) {
			return string(decoded)
		}
	}

	return strings.ToValidUTF8(string(raw), "�")
}
