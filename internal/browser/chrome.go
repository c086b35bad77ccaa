package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	defaultKeyTimeout         = time.Second
	defaultNetworkIdleTimeout = 15 * time.Second
)

type ChromeOptions struct {
	Headless           bool
	Width              int
	Height             int
	UserAgent          string
	ExecPath           string
	NetworkIdleTimeout time.Duration
	Logger             *zap.Logger
}

// Chrome drives a single tab through the DevTools protocol.
type Chrome struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger
	idleTimeout time.Duration
	idle        chan struct{}

	mu               sync.RWMutex
	requestHandlers  []func(Request)
	responseHandlers []func(Response)
	bindings         map[string]func(string)
}

// NewChrome launches a browser and prepares one tab with network and lifecycle
// events enabled.
func NewChrome(parent context.Context, options ChromeOptions) (*Chrome, error) {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("chrome")

	allocatorOptions := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", options.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	if options.Width > 0 && options.Height > 0 {
		allocatorOptions = append(allocatorOptions, chromedp.WindowSize(options.Width, options.Height))
	}
	if options.UserAgent != "" {
		allocatorOptions = append(allocatorOptions, chromedp.UserAgent(options.UserAgent))
	}
	if options.ExecPath != "" {
		allocatorOptions = append(allocatorOptions, chromedp.ExecPath(options.ExecPath))
	}

	allocatorContext, allocCancel := chromedp.NewExecAllocator(parent, allocatorOptions...)
	sugar := logger.Sugar()
	browserContext, cancel := chromedp.NewContext(allocatorContext,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Errorf),
	)

	c := &Chrome{
		ctx:         browserContext,
		cancel:      cancel,
		allocCancel: allocCancel,
		logger:      logger,
		idleTimeout: options.NetworkIdleTimeout,
		idle:        make(chan struct{}, 1),
		bindings:    make(map[string]func(string)),
	}
	if c.idleTimeout <= 0 {
		c.idleTimeout = defaultNetworkIdleTimeout
	}

	chromedp.ListenTarget(browserContext, c.dispatch)

	setup := []chromedp.Action{
		network.Enable(),
		page.SetLifecycleEventsEnabled(true),
	}
	if options.Width > 0 && options.Height > 0 {
		setup = append(setup, chromedp.EmulateViewport(int64(options.Width), int64(options.Height)))
	}
	if err := chromedp.Run(browserContext, setup...); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("%w: failed to start browser: %v", ErrUnavailable, err)
	}
	return c, nil
}

// dispatch runs on the chromedp event goroutine and must not block.
func (c *Chrome) dispatch(ev interface{}) {
	switch ev := ev.(type) {
	case *network.EventRequestWillBeSent:
		if ev.Request == nil {
			return
		}
		request := Request{
			Method:   ev.Request.Method,
			URL:      ev.Request.URL,
			PostData: postData(ev.Request),
		}
		c.mu.RLock()
		handlers := c.requestHandlers
		c.mu.RUnlock()
		for _, handler := range handlers {
			handler(request)
		}
	case *network.EventResponseReceived:
		if ev.Response == nil {
			return
		}
		response := Response{Status: int(ev.Response.Status), URL: ev.Response.URL}
		c.mu.RLock()
		handlers := c.responseHandlers
		c.mu.RUnlock()
		for _, handler := range handlers {
			handler(response)
		}
	case *runtime.EventBindingCalled:
		c.mu.RLock()
		handler := c.bindings[ev.Name]
		c.mu.RUnlock()
		if handler != nil {
			handler(ev.Payload)
		}
	case *page.EventLifecycleEvent:
		if ev.Name == "networkIdle" {
			select {
			case c.idle <- struct{}{}:
			default:
			}
		}
	}
}

func postData(request *network.Request) *string {
	if !request.HasPostData || len(request.PostDataEntries) == 0 {
		return nil
	}
	var b strings.Builder
	for _, entry := range request.PostDataEntries {
		if entry == nil {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			b.WriteString(entry.Bytes)
			continue
		}
		b.Write(decoded)
	}
	body := b.String()
	return &body
}

func (c *Chrome) OnRequest(handler func(Request)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestHandlers = append(c.requestHandlers, handler)
}

func (c *Chrome) OnResponse(handler func(Response)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responseHandlers = append(c.responseHandlers, handler)
}

func (c *Chrome) Navigate(ctx context.Context, url string, readiness Readiness) error {
	select {
	case <-c.idle:
	default:
	}

	actions := []chromedp.Action{chromedp.Navigate(url)}
	if readiness == ReadyDOMContentLoaded {
		actions = append(actions, chromedp.WaitReady("body", chromedp.ByQuery))
	}
	if err := c.run(ctx, 0, actions...); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}

	if readiness == ReadyNetworkIdle {
		timer := time.NewTimer(c.idleTimeout)
		defer timer.Stop()
		select {
		case <-c.idle:
		case <-timer.C:
			c.logger.Debug("network did not go idle", zap.String("url", url), zap.Duration("waited", c.idleTimeout))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Chrome) Inject(ctx context.Context, script string) error {
	return c.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
		return err
	}))
}

func (c *Chrome) Expose(ctx context.Context, name string, handler func(payload string)) error {
	c.mu.Lock()
	c.bindings[name] = handler
	c.mu.Unlock()
	return c.run(ctx, 0, runtime.AddBinding(name))
}

func (c *Chrome) Click(ctx context.Context, locator string, timeout time.Duration) error {
	return c.run(ctx, timeout,
		chromedp.WaitVisible(locator, chromedp.ByQuery),
		chromedp.Click(locator, chromedp.ByQuery, chromedp.NodeVisible),
	)
}

func (c *Chrome) Fill(ctx context.Context, locator, value string, timeout time.Duration) error {
	return c.run(ctx, timeout,
		chromedp.WaitVisible(locator, chromedp.ByQuery),
		chromedp.Clear(locator, chromedp.ByQuery),
		chromedp.SendKeys(locator, value, chromedp.ByQuery),
	)
}

func (c *Chrome) PressKey(ctx context.Context, key string) error {
	sequence, err := KeySequence(key)
	if err != nil {
		return err
	}
	return c.run(ctx, defaultKeyTimeout, chromedp.KeyEvent(sequence))
}

func (c *Chrome) WaitFor(ctx context.Context, locator string, state State, timeout time.Duration) error {
	switch state {
	case StateAttached:
		return c.run(ctx, timeout, chromedp.WaitReady(locator, chromedp.ByQuery))
	default:
		return c.run(ctx, timeout, chromedp.WaitVisible(locator, chromedp.ByQuery))
	}
}

func (c *Chrome) Evaluate(ctx context.Context, script string, out any) error {
	return c.run(ctx, 0, chromedp.Evaluate(script, out))
}

// Close shuts the browser down. It is safe to call more than once.
func (c *Chrome) Close() error {
	err := chromedp.Cancel(c.ctx)
	c.cancel()
	c.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

// run executes actions on the tab, bounded by timeout when positive and by the
// caller's context.
func (c *Chrome) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := c.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var (
		runContext context.Context
		cancel     context.CancelFunc
	)
	if timeout > 0 {
		runContext, cancel = context.WithTimeout(c.ctx, timeout)
	} else {
		runContext, cancel = context.WithCancel(c.ctx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runContext, actions...)
	if err == nil {
		return nil
	}
	switch {
	case c.ctx.Err() != nil:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(runContext.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: timed out after %s", ErrNotFound, timeout)
	}
	return err
}

var _ Surface = (*Chrome)(nil)
