package capture

import (
	"fmt"
	"io"
	"strconv"

	"github.com/vincentbai/browsetrace/internal/models"
)

const progressWidth = 60

// ProgressPrinter returns an observer that writes one line per captured event.
func ProgressPrinter(w io.Writer) func(models.Event) {
	return func(event models.Event) {
		fmt.Fprintln(w, Describe(event))
	}
}

// Describe renders a short human-readable line for an event.
func Describe(event models.Event) string {
	switch event.Type {
	case models.KindRequest:
		return "📤 " + event.Method + " " + models.Abbreviate(event.URL, progressWidth)
	case models.KindResponse:
		return "📥 " + strconv.Itoa(event.Status) + " " + models.Abbreviate(event.URL, progressWidth)
	case models.KindClick:
		return "🖱  click " + models.Abbreviate(event.Selector, progressWidth)
	case models.KindInput:
		return "⌨  input " + models.Abbreviate(event.Selector, progressWidth) + " = " + models.Abbreviate(event.Value, progressWidth)
	case models.KindKeyPress:
		return "⌨  key " + event.Key
	}
	return string(event.Type)
}
