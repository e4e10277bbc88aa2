package node

import (
	"encoding/base64"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var base64Line = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)

// TryDecodeBase64 unwraps a base64-encoded proxy link. The decoded form is
// returned only when it starts with a recognized scheme; any other outcome
// returns line unchanged. Applying it to its own output is a no-op.
func TryDecodeBase64(line string) string {
	if !base64Line.MatchString(line) {
		return line
	}
	b, err := decodeStd(line)
	if err != nil || !utf8.Valid(b) {
		return line
	}
	decoded := string(b)
	if Classify(decoded) == SchemeUnknown {
		return line
	}
	return decoded
}

// DecodeContent decodes a subscription body that may be base64-encoded.
// ASCII whitespace (line wrapping) is ignored. When the body does not decode
// to valid UTF-8 text the raw body is returned with ok=false.
func DecodeContent(body string) (text string, ok bool) {
	s := stripUTF8BOM(body)
	s = removeASCIISpace(s)
	if s == "" {
		return body, false
	}
	b, err := decodeAny(s)
	if err != nil || !utf8.Valid(b) {
		return body, false
	}
	return string(b), true
}

// CleanNodeString normalizes a line for equality checks: surrounding quote or
// backtick runs, trailing commas and every whitespace character are removed.
func CleanNodeString(s string) string {
	s = strings.Trim(s, "\"'`")
	s = strings.TrimRight(s, ",")
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// SplitLines splits newline-joined text into trimmed, non-empty lines.
func SplitLines(text string) []string {
	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// decodeStd accepts the standard alphabet with or without padding.
func decodeStd(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

// decodeAny also tries the URL-safe alphabet; subscription hosts use both.
func decodeAny(s string) ([]byte, error) {
	if b, err := decodeStd(s); err == nil {
		return b, nil
	}
	b, err := base64.URLEncoding.DecodeString(s)
	if err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

func removeASCIISpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n', '\f':
			continue
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func stripUTF8BOM(s string) string {
	return strings.TrimPrefix(s, "\uFEFF")
}
