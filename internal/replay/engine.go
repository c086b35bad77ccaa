// Package replay re-applies a captured session log against a live page.
package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vincentbai/browsetrace/internal/browser"
	"github.com/vincentbai/browsetrace/internal/metrics"
	"github.com/vincentbai/browsetrace/internal/models"
)

// ErrEnvironment reports that the browser or page became unusable and the run
// stopped early.
var ErrEnvironment = errors.New("replay environment unavailable")

type State string

const (
	StateIdle       State = "idle"
	StateNavigating State = "navigating"
	StateReplaying  State = "replaying"
	StateCooldown   State = "cooldown"
	StateDone       State = "done"
)

type Options struct {
	// MaxDelay caps the pause reconstructed between two events.
	MaxDelay time.Duration
	// DelayThreshold is the smallest pause worth sleeping for.
	DelayThreshold time.Duration
	WaitTimeout    time.Duration
	KeyTimeout     time.Duration
	// Cooldown keeps the page open after the last event so trailing effects settle.
	Cooldown  time.Duration
	Readiness browser.Readiness
}

func DefaultOptions() Options {
	return Options{
		MaxDelay:       2 * time.Second,
		DelayThreshold: 10 * time.Millisecond,
		WaitTimeout:    15 * time.Second,
		KeyTimeout:     time.Second,
		Cooldown:       5 * time.Second,
		Readiness:      browser.ReadyDOMContentLoaded,
	}
}

type Engine struct {
	surface browser.Surface
	opts    Options
	logger  *zap.Logger
	sleep   func(context.Context, time.Duration) error

	run       sync.Mutex
	mu        sync.Mutex
	state     State
	observers []func(models.Outcome)
}

func New(surface browser.Surface, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		surface: surface,
		opts:    opts,
		logger:  logger.Named("replay"),
		sleep:   sleepContext,
		state:   StateIdle,
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// OnOutcome registers fn to see each outcome as soon as it is classified.
func (e *Engine) OnOutcome(fn func(models.Outcome)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, fn)
}

func (e *Engine) setState(state State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
}

// Delay is the pause to reconstruct between two events: the gap between their
// timestamps clamped to [0, max].
func Delay(prev, cur int64, max time.Duration) time.Duration {
	gap := time.Duration(cur-prev) * time.Millisecond
	if gap < 0 {
		return 0
	}
	if gap > max {
		return max
	}
	return gap
}

// Run navigates to targetURL and attempts every event of log exactly once, in
// order. Per-event failures are recorded and the run continues. If navigation
// fails or the page becomes unusable the run stops and the partial summary is
// returned with an error wrapping ErrEnvironment.
func (e *Engine) Run(ctx context.Context, targetURL string, log *models.Log) (*models.Summary, error) {
	e.run.Lock()
	defer e.run.Unlock()
	defer e.setState(StateDone)

	summary := models.NewSummary(log.ID, log.Len())
	defer func() { summary.Duration = time.Since(summary.StartedAt) }()

	e.setState(StateNavigating)
	e.logger.Info("Navigating", zap.String("url", targetURL), zap.String("readiness", string(e.opts.Readiness)))
	if err := e.surface.Navigate(ctx, targetURL, e.opts.Readiness); err != nil {
		return summary, fmt.Errorf("%w: failed to navigate to %s: %v", ErrEnvironment, targetURL, err)
	}

	e.setState(StateReplaying)
	var prev int64
	for i, event := range log.Events {
		if i > 0 {
			if delay := Delay(prev, event.TS, e.opts.MaxDelay); delay > e.opts.DelayThreshold {
				if err := e.sleep(ctx, delay); err != nil {
					e.record(summary, models.Outcome{Index: i, Event: event, Status: models.StatusFailed, Error: err.Error()})
					return summary, fmt.Errorf("%w: %v", ErrEnvironment, err)
				}
			}
		}
		prev = event.TS

		outcome, err := e.apply(ctx, i, event)
		e.record(summary, outcome)
		if environmental(ctx, err) {
			e.logger.Error("Stopping replay", zap.Int("index", i), zap.Error(err))
			return summary, fmt.Errorf("%w: event %d: %v", ErrEnvironment, i, err)
		}
	}

	e.setState(StateCooldown)
	if e.opts.Cooldown > 0 {
		if err := e.sleep(ctx, e.opts.Cooldown); err != nil {
			e.logger.Debug("Cooldown interrupted", zap.Error(err))
		}
	}

	e.logger.Info("Replay finished",
		zap.Int("applied", summary.Applied),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

func (e *Engine) apply(ctx context.Context, index int, event models.Event) (models.Outcome, error) {
	outcome := models.Outcome{Index: index, Event: event, Status: models.StatusApplied}
	start := time.Now()

	var err error
	switch event.Type {
	case models.KindClick:
		err = e.waitThen(ctx, event.Selector, func() error {
			return e.surface.Click(ctx, event.Selector, e.opts.WaitTimeout)
		})
	case models.KindInput:
		if event.Masked() {
			outcome.Status = models.StatusSkipped
			return outcome, nil
		}
		err = e.waitThen(ctx, event.Selector, func() error {
			return e.surface.Fill(ctx, event.Selector, event.Value, e.opts.WaitTimeout)
		})
	case models.KindKeyPress:
		keyCtx, cancel := context.WithTimeout(ctx, e.opts.KeyTimeout)
		err = e.surface.PressKey(keyCtx, event.Key)
		cancel()
	case models.KindRequest, models.KindResponse:
		outcome.Status = models.StatusSkipped
		return outcome, nil
	default:
		err = fmt.Errorf("unknown event type %q", event.Type)
	}
	metrics.ObserveReplayAction(time.Since(start))

	if err != nil {
		e.logger.Warn("Event failed", zap.Int("index", index), zap.String("type", string(event.Type)), zap.Error(err))
		outcome.Status = models.StatusFailed
		outcome.Error = err.Error()
	}
	return outcome, err
}

func (e *Engine) waitThen(ctx context.Context, locator string, action func() error) error {
	if err := e.surface.WaitFor(ctx, locator, browser.StateVisible, e.opts.WaitTimeout); err != nil {
		return err
	}
	return action()
}

func (e *Engine) record(summary *models.Summary, outcome models.Outcome) {
	summary.Record(outcome)
	metrics.IncReplayOutcome(outcome.Status)

	e.mu.Lock()
	observers := e.observers
	e.mu.Unlock()
	for _, observe := range observers {
		observe(outcome)
	}
}

// environmental separates faults that end the run from faults of a single event.
func environmental(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, browser.ErrUnavailable) || ctx.Err() != nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
