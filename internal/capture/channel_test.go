package capture

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/vincentbai/browsetrace/internal/browser"
	"github.com/vincentbai/browsetrace/internal/browser/browsertest"
	"github.com/vincentbai/browsetrace/internal/models"
	"github.com/vincentbai/browsetrace/internal/selector"
)

// setupTestChannel returns a channel whose clock replays ticks in order and then
// stays on the last one.
func setupTestChannel(t *testing.T, ticks ...int64) (*Channel, *models.Log) {
	t.Helper()
	log := models.NewLog("test", "https://example.com")
	var mu sync.Mutex
	i := 0
	clock := func() int64 {
		mu.Lock()
		defer mu.Unlock()
		if len(ticks) == 0 {
			return 0
		}
		if i >= len(ticks) {
			return ticks[len(ticks)-1]
		}
		tick := ticks[i]
		i++
		return tick
	}
	return NewChannel(log, WithClock(clock)), log
}

func strPtr(s string) *string { return &s }

func button() selector.Snapshot {
	return selector.Snapshot{{Tag: "button", ID: "submit", IDCount: 1}}
}

func TestPushMasksPasswordInput(t *testing.T) {
	channel, log := setupTestChannel(t, 100)

	event, ok := channel.Push(Occurrence{
		Type:      "input",
		Target:    selector.Snapshot{{Tag: "input", ID: "pw", IDCount: 1}},
		Value:     strPtr("hunter2"),
		Name:      "password",
		FieldType: "text",
	})
	if !ok {
		t.Fatal("Expected input to be appended")
	}
	if event.Value != models.MaskSentinel {
		t.Errorf("Expected masked value, got %q", event.Value)
	}
	if event.Selector != "#pw" {
		t.Errorf("Expected #pw, got %q", event.Selector)
	}
	if strings.Contains(log.Events[0].Value, "hunter2") {
		t.Error("Plaintext password reached the log")
	}
}

func TestPushMasksByMarker(t *testing.T) {
	tests := []struct {
		name       string
		occurrence Occurrence
		wantMasked bool
	}{
		{name: "name marker", occurrence: Occurrence{Name: "api_token"}, wantMasked: true},
		{name: "id marker upper case", occurrence: Occurrence{FieldID: "ClientSECRET"}, wantMasked: true},
		{name: "flagged by page", occurrence: Occurrence{Masked: true}, wantMasked: true},
		{name: "plain text", occurrence: Occurrence{Name: "email", FieldType: "email"}, wantMasked: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			channel, _ := setupTestChannel(t, 1)
			o := tt.occurrence
			o.Type = "input"
			o.Selector = "#field"
			o.Value = strPtr("typed")

			event, ok := channel.Push(o)
			if !ok {
				t.Fatal("Expected input to be appended")
			}
			if got := event.Value == models.MaskSentinel; got != tt.wantMasked {
				t.Errorf("masked = %v, want %v (value %q)", got, tt.wantMasked, event.Value)
			}
		})
	}
}

func TestPushDropsDataURLs(t *testing.T) {
	channel, log := setupTestChannel(t, 1, 2, 3)

	if _, ok := channel.PushRequest("GET", "data:image/png;base64,iVBORw0KGgo=", nil); ok {
		t.Error("Expected data: request to be dropped")
	}
	if _, ok := channel.PushResponse(200, " DATA:text/plain,hi"); ok {
		t.Error("Expected data: response to be dropped")
	}
	if _, ok := channel.PushRequest("GET", "https://example.com/app.js", nil); !ok {
		t.Error("Expected regular request to be appended")
	}
	if log.Len() != 1 {
		t.Errorf("Expected 1 event, got %d", log.Len())
	}
}

func TestPushKeyAllowList(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{key: "a", want: true},
		{key: "7", want: true},
		{key: " ", want: true},
		{key: "Enter", want: true},
		{key: "Tab", want: true},
		{key: "Escape", want: true},
		{key: "Backspace", want: true},
		{key: "Shift", want: false},
		{key: "ArrowDown", want: false},
		{key: "F5", want: false},
		{key: "", want: false},
	}

	for _, tt := range tests {
		channel, _ := setupTestChannel(t, 1)
		if _, ok := channel.Push(Occurrence{Type: "keydown", Key: tt.key}); ok != tt.want {
			t.Errorf("Push(keydown %q) appended = %v, want %v", tt.key, ok, tt.want)
		}
	}
}

func TestPushDropsIncompleteOccurrences(t *testing.T) {
	tests := []struct {
		name       string
		occurrence Occurrence
	}{
		{name: "click without target", occurrence: Occurrence{Type: "click"}},
		{name: "input without target", occurrence: Occurrence{Type: "input", Value: strPtr("x")}},
		{name: "request without url", occurrence: Occurrence{Type: "network-request", Method: "GET"}},
		{name: "request without method", occurrence: Occurrence{Type: "network-request", URL: "https://example.com"}},
		{name: "response without url", occurrence: Occurrence{Type: "network-response", Status: 200}},
		{name: "unknown type", occurrence: Occurrence{Type: "scroll"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			channel, log := setupTestChannel(t, 1)
			if _, ok := channel.Push(tt.occurrence); ok {
				t.Error("Expected occurrence to be dropped")
			}
			if log.Len() != 0 {
				t.Errorf("Expected empty log, got %d events", log.Len())
			}
		})
	}
}

func TestPushUnresolvableTargetFallsBack(t *testing.T) {
	channel, _ := setupTestChannel(t, 1)

	event, ok := channel.Push(Occurrence{Type: "click", Target: selector.Snapshot{{Tag: ""}}})
	if !ok {
		t.Fatal("Expected click to be appended")
	}
	if event.Selector != selector.Fallback {
		t.Errorf("Expected fallback locator, got %q", event.Selector)
	}
}

func TestPushTimestampsNeverDecrease(t *testing.T) {
	channel, log := setupTestChannel(t, 100, 90, 90, 250)

	for i := 0; i < 4; i++ {
		if _, ok := channel.Push(Occurrence{Type: "click", Target: button()}); !ok {
			t.Fatalf("Push %d dropped", i)
		}
	}

	want := []int64{100, 100, 100, 250}
	for i, event := range log.Events {
		if event.TS != want[i] {
			t.Errorf("Event %d ts = %d, want %d", i, event.TS, want[i])
		}
	}
	if !log.Ordered() {
		t.Error("Expected log to be ordered")
	}
}

func TestPushConcurrent(t *testing.T) {
	log := models.NewLog("concurrent", "https://example.com")
	channel := NewChannel(log)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				channel.PushResponse(200, "https://example.com/api")
				channel.Push(Occurrence{Type: "keydown", Key: "a"})
			}
		}()
	}
	wg.Wait()

	if channel.Len() != 800 {
		t.Errorf("Expected 800 events, got %d", channel.Len())
	}
	if !log.Ordered() {
		t.Error("Expected concurrent appends to stay ordered")
	}
}

func TestPushRedactsAndTruncatesBodies(t *testing.T) {
	log := models.NewLog("bodies", "https://example.com")
	channel := NewChannel(log, WithMaxBodyBytes(40))

	event, ok := channel.PushRequest("POST", "https://example.com/login", strPtr(`{"user":"ana","password":"hunter2"}`))
	if !ok {
		t.Fatal("Expected request to be appended")
	}
	if strings.Contains(*event.PostData, "hunter2") {
		t.Errorf("Expected password to be scrubbed, got %q", *event.PostData)
	}

	long := strings.Repeat("é", 30)
	event, _ = channel.PushRequest("POST", "https://example.com/notes", &long)
	if len(*event.PostData) > 40 {
		t.Errorf("Expected body within 40 bytes, got %d", len(*event.PostData))
	}
	if *event.PostData != strings.Repeat("é", 20) {
		t.Errorf("Expected truncation on a rune boundary, got %q", *event.PostData)
	}

	event, _ = channel.PushRequest("GET", "https://example.com/", nil)
	if event.PostData != nil {
		t.Error("Expected absent body to stay absent")
	}
}

func TestBodyRedactor(t *testing.T) {
	redactor := NewBodyRedactor(DefaultMarkers, models.MaskSentinel)

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "json field",
			body: `{"user":"ana","password":"hunter2"}`,
			want: `{"user":"ana","password":"[MASKED]"}`,
		},
		{
			name: "json escaped quote",
			body: `{"accessToken": "a\"b", "q": "x=y"}`,
			want: `{"accessToken": "[MASKED]", "q": "x=y"}`,
		},
		{
			name: "form params",
			body: "user=ana&client_secret=s3&x=1",
			want: "user=ana&client_secret=[MASKED]&x=1",
		},
		{
			name: "leading form param",
			body: "Token=abc",
			want: "Token=[MASKED]",
		},
		{
			name: "nothing sensitive",
			body: "q=shoes&page=2",
			want: "q=shoes&page=2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redactor.Redact(tt.body); got != tt.want {
				t.Errorf("Redact(%q) = %q, want %q", tt.body, got, tt.want)
			}
		})
	}
}

func TestClosedChannelDrops(t *testing.T) {
	channel, log := setupTestChannel(t, 1, 2)

	channel.Push(Occurrence{Type: "click", Target: button()})
	channel.Close()
	if _, ok := channel.Push(Occurrence{Type: "click", Target: button()}); ok {
		t.Error("Expected push after close to be dropped")
	}
	if log.Len() != 1 {
		t.Errorf("Expected 1 event, got %d", log.Len())
	}
}

func TestSubscribeSeesEventsInOrder(t *testing.T) {
	channel, _ := setupTestChannel(t, 1, 2, 3)

	var out bytes.Buffer
	channel.Subscribe(ProgressPrinter(&out))

	channel.PushRequest("GET", "https://example.com/"+strings.Repeat("a", 80), nil)
	channel.Push(Occurrence{Type: "click", Target: button()})
	channel.Push(Occurrence{Type: "keydown", Key: "Shift"})
	channel.PushResponse(404, "https://example.com/missing")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected 3 progress lines, got %d: %q", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[0], "📤 GET https://example.com/") || !strings.HasSuffix(lines[0], "...") {
		t.Errorf("Unexpected request line %q", lines[0])
	}
	if !strings.Contains(lines[1], "click #submit") {
		t.Errorf("Unexpected click line %q", lines[1])
	}
	if lines[2] != "📥 404 https://example.com/missing" {
		t.Errorf("Unexpected response line %q", lines[2])
	}
}

func TestAttach(t *testing.T) {
	channel, log := setupTestChannel(t, 10, 20, 30, 40)
	fake := browsertest.NewFake()

	if err := channel.Attach(context.Background(), fake, DefaultScriptConfig()); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	scripts := fake.Scripts()
	if len(scripts) != 1 {
		t.Fatalf("Expected one injected script, got %d", len(scripts))
	}
	if strings.Contains(scripts[0], configPlaceholder) || !strings.Contains(scripts[0], `"binding":"browsetraceRecord"`) {
		t.Error("Expected config to be rendered into the script")
	}

	fake.EmitRequest(browser.Request{Method: "GET", URL: "https://example.com/"})
	if !fake.Emit(DefaultBinding, `{"type":"click","target":[{"tag":"button","id":"submit","idCount":1}]}`) {
		t.Fatal("Expected binding to be exposed")
	}
	fake.Emit(DefaultBinding, `{not json`)
	fake.Emit(DefaultBinding, `{"selector":"#x"}`)
	fake.EmitResponse(browser.Response{Status: 200, URL: "https://example.com/"})

	if log.Len() != 3 {
		t.Fatalf("Expected 3 events, got %d", log.Len())
	}
	kinds := []models.Kind{models.KindRequest, models.KindClick, models.KindResponse}
	for i, kind := range kinds {
		if log.Events[i].Type != kind {
			t.Errorf("Event %d type = %s, want %s", i, log.Events[i].Type, kind)
		}
	}
}

func TestScriptRejectsBadBinding(t *testing.T) {
	cfg := DefaultScriptConfig()
	cfg.Binding = "record(); alert(1)"
	if _, err := Script(cfg); err == nil {
		t.Error("Expected error for invalid binding name")
	}
}
