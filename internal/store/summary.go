package store

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/vincentbai/browsetrace/internal/models"
)

const bodyPreview = 80

var mediaExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true,
	".ico": true, ".webp": true, ".woff": true, ".woff2": true,
}

// RenderSummary renders one line per event, leaving out network traffic for
// images and fonts.
func RenderSummary(log *models.Log) string {
	var b strings.Builder
	_ = WriteSummary(&b, log)
	return b.String()
}

func WriteSummary(w io.Writer, log *models.Log) error {
	bw := bufio.NewWriter(w)
	for _, event := range log.Events {
		line, ok := summaryLine(event)
		if !ok {
			continue
		}
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

func summaryLine(event models.Event) (string, bool) {
	switch event.Type {
	case models.KindRequest:
		if isMedia(event.URL) {
			return "", false
		}
		line := fmt.Sprintf("[REQUEST] %s %s", event.Method, event.URL)
		if event.PostData != nil && *event.PostData != "" {
			line += " | Body: " + models.Abbreviate(*event.PostData, bodyPreview)
		}
		return line, true
	case models.KindResponse:
		if isMedia(event.URL) {
			return "", false
		}
		return fmt.Sprintf("[RESPONSE] %d %s", event.Status, event.URL), true
	case models.KindClick:
		return "[CLICK] " + event.Selector, true
	case models.KindInput:
		return fmt.Sprintf("[INPUT] %s = %s", event.Selector, event.Value), true
	case models.KindKeyPress:
		return "[KEY] " + event.Key, true
	}
	return "", false
}

func isMedia(raw string) bool {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	return mediaExtensions[strings.ToLower(path.Ext(p))]
}
