package capture

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/vincentbai/browsetrace/internal/models"
)

var (
	DefaultMarkers        = []string{"password", "token", "secret"}
	DefaultSensitiveTypes = []string{"password"}
	// ControlKeys are the non-printable keys worth recording.
	ControlKeys = []string{"Enter", "Tab", "Escape", "Backspace"}
)

// Policy decides which input fields are sensitive.
type Policy struct {
	Markers        []string
	SensitiveTypes []string
	Sentinel       string
}

func DefaultPolicy() Policy {
	return Policy{
		Markers:        DefaultMarkers,
		SensitiveTypes: DefaultSensitiveTypes,
		Sentinel:       models.MaskSentinel,
	}
}

// IsSensitive matches markers case-insensitively against the field name, id and type.
func (p Policy) IsSensitive(name, id, fieldType string) bool {
	lowerType := strings.ToLower(strings.TrimSpace(fieldType))
	for _, sensitiveType := range p.SensitiveTypes {
		if lowerType == strings.ToLower(sensitiveType) {
			return true
		}
	}
	for _, field := range []string{name, id, fieldType} {
		field = strings.ToLower(field)
		if field == "" {
			continue
		}
		for _, marker := range p.Markers {
			if marker != "" && strings.Contains(field, strings.ToLower(marker)) {
				return true
			}
		}
	}
	return false
}

// AllowedKey reports whether a key press is worth recording: a single printable
// character or one of ControlKeys.
func AllowedKey(key string) bool {
	for _, control := range ControlKeys {
		if key == control {
			return true
		}
	}
	if utf8.RuneCountInString(key) != 1 {
		return false
	}
	r, _ := utf8.DecodeRuneInString(key)
	return r >= 0x20 && r != 0x7f && r != utf8.RuneError
}

// BodyRedactor masks sensitive fields in request bodies, both JSON members and
// form-encoded parameters whose name contains a marker.
type BodyRedactor struct {
	jsonField   *regexp.Regexp
	formField   *regexp.Regexp
	replacement string
}

func NewBodyRedactor(markers []string, sentinel string) *BodyRedactor {
	quoted := make([]string, 0, len(markers))
	for _, marker := range markers {
		if marker != "" {
			quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(marker)))
		}
	}
	if len(quoted) == 0 {
		return &BodyRedactor{}
	}
	alternation := "(?:" + strings.Join(quoted, "|") + ")"
	return &BodyRedactor{
		jsonField:   regexp.MustCompile(`(?i)("[^"]*` + alternation + `[^"]*"\s*:\s*)"(?:[^"\\]|\\.)*"`),
		formField:   regexp.MustCompile(`(?i)((?:^|[&?])[^=&]*` + alternation + `[^=&]*=)[^&]*`),
		replacement: strings.ReplaceAll(sentinel, "$", "$$"),
	}
}

func (r *BodyRedactor) Redact(body string) string {
	if r == nil || r.jsonField == nil || body == "" {
		return body
	}
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return r.jsonField.ReplaceAllString(body, `${1}"`+r.replacement+`"`)
	}
	return r.formField.ReplaceAllString(body, "${1}"+r.replacement)
}

func isDataURL(url string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(url)), "data:")
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
