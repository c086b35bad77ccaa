package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/vincentbai/browsetrace/internal/models"
	"github.com/vincentbai/browsetrace/internal/store"
)

func setupTestDB(t *testing.T) (*Database, func()) {
	t.Helper()

	// Create temporary directory for test database
	tmpDir, err := os.MkdirTemp("", "browsetrace-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := NewDatabase(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create test database: %v", err)
	}

	// Return cleanup function
	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}

	return db, cleanup
}

func sessionLog() *models.Log {
	body := "q=shoes"
	log := models.NewLog("s1", "https://shop.example.com")
	log.Viewport = &models.Viewport{Width: 1280, Height: 800}
	log.Append(models.NewRequest(1000, "POST", "https://shop.example.com/search", &body))
	log.Append(models.NewResponse(1010, 200, "https://shop.example.com/search"))
	log.Append(models.NewClick(1500, "#app ul.menu li.item:nth-of-type(2) a"))
	log.Append(models.NewInput(1600, "#q", "running shoes"))
	log.Append(models.NewKeyPress(1700, "Enter"))
	return log
}

func TestNewDatabase(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if db == nil {
		t.Fatal("Expected non-nil database")
	}
	if db.db == nil {
		t.Fatal("Expected non-nil sql.DB")
	}
}

func TestValidateEvent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	tests := []struct {
		name      string
		event     models.Event
		wantError bool
	}{
		{
			name:      "valid click event",
			event:     models.NewClick(1234567890, "#submit"),
			wantError: false,
		},
		{
			name:      "valid response event",
			event:     models.NewResponse(1, 404, "https://example.com/missing"),
			wantError: false,
		},
		{
			name:      "empty type",
			event:     models.Event{TS: 1, Selector: "#submit"},
			wantError: true,
		},
		{
			name:      "invalid event type",
			event:     models.Event{Type: "scroll", TS: 1},
			wantError: true,
		},
		{
			name:      "negative timestamp",
			event:     models.NewClick(-1, "#submit"),
			wantError: true,
		},
		{
			name:      "click without selector",
			event:     models.NewClick(1, ""),
			wantError: true,
		},
		{
			name:      "request without url",
			event:     models.NewRequest(1, "GET", "", nil),
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := db.ValidateEvent(tt.event)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidateEvent() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestSaveLoad(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	log := sessionLog()
	if err := db.Save(ctx, "s1", log); err != nil {
		t.Fatalf("Failed to save session: %v", err)
	}

	// Verify events were inserted
	var count int
	if err := db.db.QueryRow("SELECT COUNT(*) FROM events WHERE session_id = 's1'").Scan(&count); err != nil {
		t.Fatalf("Failed to query count: %v", err)
	}
	if count != log.Len() {
		t.Errorf("Expected %d events, got %d", log.Len(), count)
	}

	loaded, err := db.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Failed to load session: %v", err)
	}
	if !reflect.DeepEqual(loaded.Events, log.Events) {
		t.Errorf("Loaded events differ:\n got %+v\nwant %+v", loaded.Events, log.Events)
	}
	if loaded.StartURL != log.StartURL || !loaded.CreatedAt.Equal(log.CreatedAt) {
		t.Errorf("Unexpected session metadata %+v", loaded)
	}
	if loaded.Viewport == nil || *loaded.Viewport != *log.Viewport {
		t.Errorf("Unexpected viewport %+v", loaded.Viewport)
	}
}

func TestSaveReplacesEvents(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := db.Save(ctx, "s1", sessionLog()); err != nil {
		t.Fatalf("Failed to save session: %v", err)
	}
	replacement := models.NewLog("s1", "https://example.com")
	replacement.Append(models.NewClick(1, "#only"))
	if err := db.Save(ctx, "s1", replacement); err != nil {
		t.Fatalf("Failed to save session: %v", err)
	}

	loaded, err := db.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Failed to load session: %v", err)
	}
	if loaded.Len() != 1 || loaded.Events[0].Selector != "#only" {
		t.Errorf("Expected replaced log, got %+v", loaded.Events)
	}
}

func TestSaveInvalidEventRollsBack(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := db.Save(ctx, "s1", sessionLog()); err != nil {
		t.Fatalf("Failed to save session: %v", err)
	}

	broken := models.NewLog("s1", "https://example.com")
	broken.Append(models.NewClick(1, "#ok"))
	broken.Append(models.NewRequest(2, "GET", "", nil)) // Invalid: empty URL
	if err := db.Save(ctx, "s1", broken); err == nil {
		t.Fatal("Expected error for invalid event, got nil")
	}

	// Verify transaction was rolled back
	loaded, err := db.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Failed to load session: %v", err)
	}
	if loaded.Len() != sessionLog().Len() {
		t.Errorf("Expected original %d events after rollback, got %d", sessionLog().Len(), loaded.Len())
	}
}

func TestAllEventTypes(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	events := []models.Event{
		models.NewClick(1, "#a"),
		models.NewInput(2, "#b", ""),
		models.NewKeyPress(3, "Tab"),
		models.NewRequest(4, "GET", "https://example.com", nil),
		models.NewResponse(5, 200, "https://example.com"),
	}

	for _, event := range events {
		t.Run(string(event.Type), func(t *testing.T) {
			log := models.NewLog(string(event.Type), "")
			log.Append(event)
			if err := db.Save(context.Background(), string(event.Type), log); err != nil {
				t.Errorf("Failed to save %s event: %v", event.Type, err)
			}
		})
	}

	// Verify all events were inserted
	var count int
	if err := db.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		t.Fatalf("Failed to query count: %v", err)
	}
	if count != len(events) {
		t.Errorf("Expected %d events, got %d", len(events), count)
	}
}

func TestEventDataIsValidJSON(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if err := db.Save(context.Background(), "s1", sessionLog()); err != nil {
		t.Fatalf("Failed to save session: %v", err)
	}

	var dataJSON string
	err := db.db.QueryRow("SELECT data_json FROM events WHERE session_id = 's1' AND seq = 0").Scan(&dataJSON)
	if err != nil {
		t.Fatalf("Failed to query data_json: %v", err)
	}
	if !strings.Contains(dataJSON, `"postData":"q=shoes"`) {
		t.Errorf("Unexpected data_json %s", dataJSON)
	}
}

func TestLoadNotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if _, err := db.Load(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected store.ErrNotFound, got %v", err)
	}
	if _, err := db.Summary(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected store.ErrNotFound, got %v", err)
	}
}

func TestSaveSummary(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	log := sessionLog()
	if err := db.SaveSummary(ctx, "s1", log); err != nil {
		t.Fatalf("Failed to save summary: %v", err)
	}
	body, err := db.Summary(ctx, "s1")
	if err != nil {
		t.Fatalf("Failed to read summary: %v", err)
	}
	if body != store.RenderSummary(log) {
		t.Errorf("Unexpected summary %q", body)
	}
}

func TestDatabaseClose(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	err := db.Close()
	if err != nil {
		t.Errorf("Failed to close database: %v", err)
	}
}
