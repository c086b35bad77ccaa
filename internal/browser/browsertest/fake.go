// Package browsertest provides an in-memory browser.Surface for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vincentbai/browsetrace/internal/browser"
)

// Call is one action invoked on the fake.
type Call struct {
	Method  string
	Locator string
	Value   string
	Timeout time.Duration
}

// Fake resolves locators against a fixed set of visible elements.
type Fake struct {
	// NavigateErr is returned from every Navigate call when set.
	NavigateErr error
	// Errors forces a specific error for actions on a locator.
	Errors map[string]error

	mu               sync.Mutex
	visible          map[string]bool
	calls            []Call
	navigations      []string
	scripts          []string
	bindings         map[string]func(string)
	requestHandlers  []func(browser.Request)
	responseHandlers []func(browser.Response)
	closed           bool
}

func NewFake(visible ...string) *Fake {
	f := &Fake{
		Errors:   make(map[string]error),
		visible:  make(map[string]bool),
		bindings: make(map[string]func(string)),
	}
	for _, locator := range visible {
		f.visible[locator] = true
	}
	return f
}

func (f *Fake) SetVisible(locator string, visible bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visible[locator] = visible
}

func (f *Fake) Navigate(_ context.Context, url string, _ browser.Readiness) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigations = append(f.navigations, url)
	return f.NavigateErr
}

func (f *Fake) OnRequest(handler func(browser.Request)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requestHandlers = append(f.requestHandlers, handler)
}

func (f *Fake) OnResponse(handler func(browser.Response)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responseHandlers = append(f.responseHandlers, handler)
}

func (f *Fake) Inject(_ context.Context, script string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, script)
	return nil
}

func (f *Fake) Expose(_ context.Context, name string, handler func(string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings[name] = handler
	return nil
}

func (f *Fake) Click(ctx context.Context, locator string, timeout time.Duration) error {
	return f.act(ctx, Call{Method: "click", Locator: locator, Timeout: timeout})
}

func (f *Fake) Fill(ctx context.Context, locator, value string, timeout time.Duration) error {
	return f.act(ctx, Call{Method: "fill", Locator: locator, Value: value, Timeout: timeout})
}

func (f *Fake) PressKey(ctx context.Context, key string) error {
	if _, err := browser.KeySequence(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", browser.ErrUnavailable, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: "press", Value: key})
	return f.closedErr()
}

func (f *Fake) WaitFor(ctx context.Context, locator string, _ browser.State, timeout time.Duration) error {
	return f.act(ctx, Call{Method: "wait", Locator: locator, Timeout: timeout})
}

func (f *Fake) Evaluate(_ context.Context, script string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: "evaluate", Value: script})
	return f.closedErr()
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *Fake) act(ctx context.Context, call Call) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", browser.ErrUnavailable, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if err := f.closedErr(); err != nil {
		return err
	}
	if err, ok := f.Errors[call.Locator]; ok {
		return err
	}
	if !f.visible[call.Locator] {
		return fmt.Errorf("%w: %s did not become visible within %s", browser.ErrNotFound, call.Locator, call.Timeout)
	}
	return nil
}

func (f *Fake) closedErr() error {
	if f.closed {
		return fmt.Errorf("%w: page closed", browser.ErrUnavailable)
	}
	return nil
}

// Emit invokes an exposed binding as the page would.
func (f *Fake) Emit(name, payload string) bool {
	f.mu.Lock()
	handler := f.bindings[name]
	f.mu.Unlock()
	if handler == nil {
		return false
	}
	handler(payload)
	return true
}

func (f *Fake) EmitRequest(request browser.Request) {
	f.mu.Lock()
	handlers := append([]func(browser.Request){}, f.requestHandlers...)
	f.mu.Unlock()
	for _, handler := range handlers {
		handler(request)
	}
}

func (f *Fake) EmitResponse(response browser.Response) {
	f.mu.Lock()
	handlers := append([]func(browser.Response){}, f.responseHandlers...)
	f.mu.Unlock()
	for _, handler := range handlers {
		handler(response)
	}
}

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount counts calls to the given methods.
func (f *Fake) CallCount(methods ...string) int {
	count := 0
	for _, call := range f.Calls() {
		for _, method := range methods {
			if call.Method == method {
				count++
			}
		}
	}
	return count
}

func (f *Fake) Navigations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigations...)
}

func (f *Fake) Scripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.scripts...)
}

func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var _ browser.Surface = (*Fake)(nil)
