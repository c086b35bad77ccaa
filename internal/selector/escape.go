package selector

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// EscapeIdent serializes s as a CSS identifier, following CSS.escape from CSSOM.
func EscapeIdent(s string) string {
	var b strings.Builder
	first, _ := utf8.DecodeRuneInString(s)
	length := utf8.RuneCountInString(s)

	index := 0
	for _, r := range s {
		switch {
		case r == 0:
			b.WriteRune(utf8.RuneError)
		case (r >= 0x01 && r <= 0x1f) || r == 0x7f,
			index == 0 && r >= '0' && r <= '9',
			index == 1 && r >= '0' && r <= '9' && first == '-':
			writeCodePoint(&b, r)
		case index == 0 && r == '-' && length == 1:
			b.WriteString(`\-`)
		case r >= 0x80 || r == '-' || r == '_' ||
			(r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			b.WriteRune(r)
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
		index++
	}
	return b.String()
}

// EscapeString serializes s as a double-quoted CSS string.
func EscapeString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch {
		case r == 0:
			b.WriteRune(utf8.RuneError)
		case (r >= 0x01 && r <= 0x1f) || r == 0x7f:
			writeCodePoint(&b, r)
		case r == '"' || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func writeCodePoint(b *strings.Builder, r rune) {
	b.WriteByte('\\')
	b.WriteString(strconv.FormatInt(int64(r), 16))
	b.WriteByte(' ')
}
