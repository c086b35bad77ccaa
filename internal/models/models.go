package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// MaskSentinel replaces the value of any sensitive input field.
const MaskSentinel = "[MASKED]"

type Kind string

const (
	KindClick    Kind = "click"
	KindInput    Kind = "input"
	KindKeyPress Kind = "keydown"
	KindRequest  Kind = "network-request"
	KindResponse Kind = "network-response"
)

func (k Kind) Valid() bool {
	switch k {
	case KindClick, KindInput, KindKeyPress, KindRequest, KindResponse:
		return true
	}
	return false
}

// Event is one captured occurrence. Type selects which of the payload fields are meaningful.
type Event struct {
	Type     Kind    `json:"type"`
	TS       int64   `json:"ts"`
	Selector string  `json:"selector,omitempty"` // click|input
	Value    string  `json:"value,omitempty"`    // input
	Key      string  `json:"key,omitempty"`      // keydown
	Method   string  `json:"method,omitempty"`   // network-request
	URL      string  `json:"url,omitempty"`      // network-request|network-response
	PostData *string `json:"postData,omitempty"` // network-request, nullable
	Status   int     `json:"status,omitempty"`   // network-response
}

func NewClick(ts int64, selector string) Event {
	return Event{Type: KindClick, TS: ts, Selector: selector}
}

func NewInput(ts int64, selector, value string) Event {
	return Event{Type: KindInput, TS: ts, Selector: selector, Value: value}
}

func NewKeyPress(ts int64, key string) Event {
	return Event{Type: KindKeyPress, TS: ts, Key: key}
}

func NewRequest(ts int64, method, url string, body *string) Event {
	return Event{Type: KindRequest, TS: ts, Method: method, URL: url, PostData: body}
}

func NewResponse(ts int64, status int, url string) Event {
	return Event{Type: KindResponse, TS: ts, Status: status, URL: url}
}

func (e Event) IsNetwork() bool {
	return e.Type == KindRequest || e.Type == KindResponse
}

// Masked reports whether an input event carries the mask sentinel instead of a value.
func (e Event) Masked() bool {
	return e.Type == KindInput && e.Value == MaskSentinel
}

// Validate checks the minimum identifying fields for the event kind.
func (e Event) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("invalid event type: %q", e.Type)
	}
	if e.TS < 0 {
		return fmt.Errorf("timestamp cannot be negative")
	}
	switch e.Type {
	case KindClick, KindInput:
		if e.Selector == "" {
			return fmt.Errorf("%s event requires a selector", e.Type)
		}
	case KindKeyPress:
		if e.Key == "" {
			return fmt.Errorf("keydown event requires a key")
		}
	case KindRequest:
		if e.Method == "" || e.URL == "" {
			return fmt.Errorf("network-request event requires method and url")
		}
	case KindResponse:
		if e.URL == "" {
			return fmt.Errorf("network-response event requires a url")
		}
	}
	return nil
}

type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Log is the ordered event sequence of one session. It is not safe for concurrent
// mutation; while recording only the capture channel appends to it.
type Log struct {
	ID        string    `json:"id"`
	StartURL  string    `json:"start_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Viewport  *Viewport `json:"viewport,omitempty"`
	Events    []Event   `json:"events"`
}

func NewLog(id, startURL string) *Log {
	return &Log{
		ID:        id,
		StartURL:  startURL,
		CreatedAt: time.Now().UTC(),
		Events:    make([]Event, 0),
	}
}

func (l *Log) Append(event Event) {
	l.Events = append(l.Events, event)
}

func (l *Log) Len() int {
	return len(l.Events)
}

// Ordered reports whether timestamps are non-decreasing.
func (l *Log) Ordered() bool {
	for i := 1; i < len(l.Events); i++ {
		if l.Events[i].TS < l.Events[i-1].TS {
			return false
		}
	}
	return true
}

func (l *Log) Counts() map[Kind]int {
	counts := make(map[Kind]int)
	for _, event := range l.Events {
		counts[event.Type]++
	}
	return counts
}

// NetworkCount returns the number of request and response events.
func (l *Log) NetworkCount() int {
	counts := l.Counts()
	return counts[KindRequest] + counts[KindResponse]
}

// UnmarshalJSON accepts both the structured record and a bare array of events,
// which is how older session files were written.
func (l *Log) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		var events []Event
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return err
		}
		*l = Log{Events: events}
		return nil
	}

	type record Log
	var decoded record
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*l = Log(decoded)
	if l.Events == nil {
		l.Events = make([]Event, 0)
	}
	return nil
}
