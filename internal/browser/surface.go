// Package browser is the automation surface used to capture from and replay onto a
// live page.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound reports that a locator did not resolve to an element in the
	// required state before the timeout.
	ErrNotFound = errors.New("element not found")
	// ErrUnavailable reports that the browser or page is gone.
	ErrUnavailable = errors.New("browser unavailable")
	ErrInvalidKey  = errors.New("unsupported key")
)

type Readiness string

const (
	ReadyLoad             Readiness = "load"
	ReadyDOMContentLoaded Readiness = "domcontentloaded"
	ReadyNetworkIdle      Readiness = "networkidle"
)

func ParseReadiness(raw string) (Readiness, error) {
	switch readiness := Readiness(strings.ToLower(strings.TrimSpace(raw))); readiness {
	case ReadyLoad, ReadyDOMContentLoaded, ReadyNetworkIdle:
		return readiness, nil
	case "":
		return ReadyLoad, nil
	default:
		return "", fmt.Errorf("unknown readiness policy: %q", raw)
	}
}

type State string

const (
	StateVisible  State = "visible"
	StateAttached State = "attached"
)

// Request is an outbound request observed on the page.
type Request struct {
	Method   string
	URL      string
	PostData *string
}

// Response is an inbound response observed on the page.
type Response struct {
	Status int
	URL    string
}

// Surface is everything capture and replay need from a browser.
type Surface interface {
	Navigate(ctx context.Context, url string, readiness Readiness) error
	OnRequest(handler func(Request))
	OnResponse(handler func(Response))
	// Inject registers a script that runs in every new document before page scripts.
	Inject(ctx context.Context, script string) error
	// Expose makes window[name](payload) in the page call handler on the host.
	Expose(ctx context.Context, name string, handler func(payload string)) error
	Click(ctx context.Context, locator string, timeout time.Duration) error
	Fill(ctx context.Context, locator, value string, timeout time.Duration) error
	PressKey(ctx context.Context, key string) error
	WaitFor(ctx context.Context, locator string, state State, timeout time.Duration) error
	Evaluate(ctx context.Context, script string, out any) error
	Close() error
}
