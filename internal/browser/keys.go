package browser

import (
	"fmt"
	"unicode/utf8"

	"github.com/chromedp/chromedp/kb"
)

var controlKeys = map[string]string{
	"Enter":     kb.Enter,
	"Tab":       kb.Tab,
	"Escape":    kb.Escape,
	"Backspace": kb.Backspace,
}

// KeySequence maps a recorded key name to the sequence chromedp dispatches.
func KeySequence(key string) (string, error) {
	if sequence, ok := controlKeys[key]; ok {
		return sequence, nil
	}
	if utf8.RuneCountInString(key) == 1 {
		return key, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
}
