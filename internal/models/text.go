package models

// Abbreviate shortens s to at most n runes, marking the cut with "...".
func Abbreviate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
