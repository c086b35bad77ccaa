package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/vincentbai/browsetrace/internal/models"
)

func setupTestStore(t *testing.T, format Format) (*FileStore, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "browsetrace-store-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	s, err := NewFileStore(filepath.Join(dir, "sessions"), format)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s, func() { os.RemoveAll(dir) }
}

func sampleLog() *models.Log {
	body := `{"user":"ana","password":"[MASKED]"}`
	log := models.NewLog("checkout", "https://shop.example.com")
	log.Viewport = &models.Viewport{Width: 1280, Height: 800}
	log.Append(models.NewRequest(1000, "POST", "https://shop.example.com/api/login", &body))
	log.Append(models.NewResponse(1040, 200, "https://shop.example.com/api/login"))
	log.Append(models.NewRequest(1041, "GET", "https://shop.example.com/logo.PNG?v=2", nil))
	log.Append(models.NewResponse(1050, 200, "https://shop.example.com/fonts/inter.woff2"))
	log.Append(models.NewClick(1200, "#submit"))
	log.Append(models.NewInput(1300, "#pw", models.MaskSentinel))
	log.Append(models.NewKeyPress(1400, "Enter"))
	return log
}

func TestSaveLoad(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatMsgpack} {
		t.Run(string(format), func(t *testing.T) {
			s, cleanup := setupTestStore(t, format)
			defer cleanup()

			ctx := context.Background()
			log := sampleLog()
			if err := s.Save(ctx, "checkout", log); err != nil {
				t.Fatalf("Failed to save: %v", err)
			}
			if _, err := os.Stat(s.Path("checkout")); err != nil {
				t.Fatalf("Expected session file: %v", err)
			}

			loaded, err := s.Load(ctx, "checkout")
			if err != nil {
				t.Fatalf("Failed to load: %v", err)
			}
			if !reflect.DeepEqual(loaded.Events, log.Events) {
				t.Errorf("Loaded events differ:\n got %+v\nwant %+v", loaded.Events, log.Events)
			}
			if loaded.StartURL != log.StartURL || loaded.Viewport == nil || loaded.Viewport.Width != 1280 {
				t.Errorf("Unexpected metadata %+v", loaded)
			}
		})
	}
}

func TestLoadFallsBackAcrossFormats(t *testing.T) {
	msgpackStore, cleanup := setupTestStore(t, FormatMsgpack)
	defer cleanup()

	ctx := context.Background()
	if err := msgpackStore.Save(ctx, "s1", sampleLog()); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	jsonStore := &FileStore{Dir: msgpackStore.Dir, Format: FormatJSON}
	loaded, err := jsonStore.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Failed to load msgpack session through json store: %v", err)
	}
	if loaded.Len() != 7 {
		t.Errorf("Expected 7 events, got %d", loaded.Len())
	}
}

func TestLoadLegacyArray(t *testing.T) {
	s, cleanup := setupTestStore(t, FormatJSON)
	defer cleanup()

	legacy := `[{"type":"click","selector":"#submit","ts":5},{"type":"keydown","key":"a","ts":9}]`
	if err := os.WriteFile(filepath.Join(s.Dir, "session.json"), []byte(legacy), 0o644); err != nil {
		t.Fatalf("Failed to write legacy file: %v", err)
	}

	loaded, err := s.Load(context.Background(), "session")
	if err != nil {
		t.Fatalf("Failed to load legacy session: %v", err)
	}
	if loaded.ID != "session" || loaded.Len() != 2 || loaded.Events[0].Selector != "#submit" {
		t.Errorf("Unexpected legacy log %+v", loaded)
	}
}

func TestLoadNotFound(t *testing.T) {
	s, cleanup := setupTestStore(t, FormatJSON)
	defer cleanup()

	_, err := s.Load(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSaveOverwritesAtomically(t *testing.T) {
	s, cleanup := setupTestStore(t, FormatJSON)
	defer cleanup()

	ctx := context.Background()
	first := sampleLog()
	if err := s.Save(ctx, "s", first); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	second := models.NewLog("s", "https://example.com")
	second.Append(models.NewClick(1, "#only"))
	if err := s.Save(ctx, "s", second); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	loaded, err := s.Load(ctx, "s")
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if loaded.Len() != 1 {
		t.Errorf("Expected overwritten log with 1 event, got %d", loaded.Len())
	}

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		t.Fatalf("Failed to read dir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			t.Errorf("Temp file left behind: %s", entry.Name())
		}
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		wantError bool
	}{
		{name: "plain", id: "session"},
		{name: "uuid", id: "5f1c9c1e-8d55-4a51-9a0c-0f6a8e7f2b11"},
		{name: "empty", id: "", wantError: true},
		{name: "blank", id: "  ", wantError: true},
		{name: "slash", id: "../etc/passwd", wantError: true},
		{name: "backslash", id: `a\b`, wantError: true},
		{name: "dotdot", id: "..", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.id)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidateID(%q) error = %v, wantError %v", tt.id, err, tt.wantError)
			}
		})
	}
}

func TestRenderSummary(t *testing.T) {
	got := RenderSummary(sampleLog())
	want := strings.Join([]string{
		`[REQUEST] POST https://shop.example.com/api/login | Body: {"user":"ana","password":"[MASKED]"}`,
		`[RESPONSE] 200 https://shop.example.com/api/login`,
		`[CLICK] #submit`,
		`[INPUT] #pw = [MASKED]`,
		`[KEY] Enter`,
	}, "\n") + "\n"
	if got != want {
		t.Errorf("RenderSummary() =\n%s\nwant\n%s", got, want)
	}
}

func TestRenderSummaryTruncatesBody(t *testing.T) {
	body := strings.Repeat("x", 200)
	log := models.NewLog("s", "")
	log.Append(models.NewRequest(1, "POST", "https://example.com/upload", &body))

	got := RenderSummary(log)
	want := "[REQUEST] POST https://example.com/upload | Body: " + strings.Repeat("x", 80) + "...\n"
	if got != want {
		t.Errorf("RenderSummary() = %q, want %q", got, want)
	}
}

func TestSaveSummary(t *testing.T) {
	s, cleanup := setupTestStore(t, FormatJSON)
	defer cleanup()

	if err := s.SaveSummary(context.Background(), "s", sampleLog()); err != nil {
		t.Fatalf("Failed to save summary: %v", err)
	}
	data, err := os.ReadFile(s.SummaryPath("s"))
	if err != nil {
		t.Fatalf("Failed to read summary: %v", err)
	}
	if string(data) != RenderSummary(sampleLog()) {
		t.Errorf("Unexpected summary file contents %q", data)
	}
}
