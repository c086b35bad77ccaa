package capture

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vincentbai/browsetrace/internal/metrics"
	"github.com/vincentbai/browsetrace/internal/models"
	"github.com/vincentbai/browsetrace/internal/selector"
)

// DefaultMaxBodyBytes caps the request body kept per network event.
const DefaultMaxBodyBytes = 64 << 10

// Drop reasons, used as the metrics label.
const (
	DropNoTarget      = "no_target"
	DropKeyNotAllowed = "key_not_allowed"
	DropIncomplete    = "incomplete"
	DropDataURL       = "data_url"
	DropUnknownType   = "unknown_type"
	DropMalformed     = "malformed"
	DropClosed        = "closed"
)

// Channel stamps occurrences and appends them to a session log in arrival order.
// It is safe for concurrent use.
type Channel struct {
	mu        sync.Mutex
	log       *models.Log
	clock     func() int64
	last      int64
	closed    bool
	observers []func(models.Event)

	policy   Policy
	redactor *BodyRedactor
	synth    *selector.Synthesizer
	maxBody  int
	logger   *zap.Logger
}

type Option func(*Channel)

// WithClock replaces the millisecond clock. Readings that go backwards are
// clamped to the previous stamp.
func WithClock(clock func() int64) Option {
	return func(c *Channel) { c.clock = clock }
}

func WithPolicy(policy Policy) Option {
	return func(c *Channel) { c.policy = policy }
}

func WithSynthesizer(synth *selector.Synthesizer) Option {
	return func(c *Channel) { c.synth = synth }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Channel) { c.logger = logger.Named("capture") }
}

func WithMaxBodyBytes(limit int) Option {
	return func(c *Channel) { c.maxBody = limit }
}

func WithBodyRedactor(redactor *BodyRedactor) Option {
	return func(c *Channel) { c.redactor = redactor }
}

func NewChannel(log *models.Log, options ...Option) *Channel {
	c := &Channel{
		log:     log,
		clock:   monotonicClock(),
		policy:  DefaultPolicy(),
		synth:   selector.Default(),
		maxBody: DefaultMaxBodyBytes,
		logger:  zap.NewNop(),
	}
	for _, option := range options {
		option(c)
	}
	if c.redactor == nil {
		c.redactor = NewBodyRedactor(c.policy.Markers, c.policy.Sentinel)
	}
	return c
}

// monotonicClock reports wall-clock milliseconds anchored at creation and
// advanced by the monotonic clock, so it never runs backwards.
func monotonicClock() func() int64 {
	start := time.Now()
	base := start.UnixMilli()
	return func() int64 {
		return base + time.Since(start).Milliseconds()
	}
}

// Subscribe registers fn to see every appended event. Observers run in append
// order while the channel is locked, so they must not push.
func (c *Channel) Subscribe(fn func(models.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Push converts an occurrence into an event and appends it. It reports false
// when the occurrence was dropped.
func (c *Channel) Push(o Occurrence) (models.Event, bool) {
	event, reason := c.build(o)
	if reason != "" {
		c.drop(o.Type, reason)
		return models.Event{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.drop(o.Type, DropClosed)
		return models.Event{}, false
	}
	ts := c.clock()
	if ts < c.last {
		ts = c.last
	}
	c.last = ts
	event.TS = ts
	c.log.Append(event)
	metrics.IncCaptured(event.Type)
	for _, observe := range c.observers {
		observe(event)
	}
	return event, true
}

func (c *Channel) PushRequest(method, url string, body *string) (models.Event, bool) {
	return c.Push(Occurrence{Type: string(models.KindRequest), Method: method, URL: url, PostData: body})
}

func (c *Channel) PushResponse(status int, url string) (models.Event, bool) {
	return c.Push(Occurrence{Type: string(models.KindResponse), Status: status, URL: url})
}

// PushPayload decodes a JSON occurrence as delivered by the page binding.
func (c *Channel) PushPayload(payload []byte) (models.Event, bool) {
	occurrence, err := DecodeOccurrence(payload)
	if err != nil {
		c.logger.Debug("Dropping malformed occurrence", zap.Error(err))
		metrics.IncDropped(DropMalformed)
		return models.Event{}, false
	}
	return c.Push(occurrence)
}

// Close stops further appends. Later pushes are dropped.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log.Len()
}

func (c *Channel) build(o Occurrence) (models.Event, string) {
	switch models.Kind(o.Type) {
	case models.KindClick:
		locator := c.locate(o)
		if locator == "" {
			return models.Event{}, DropNoTarget
		}
		return models.NewClick(0, locator), ""

	case models.KindInput:
		locator := c.locate(o)
		if locator == "" {
			return models.Event{}, DropNoTarget
		}
		value := ""
		if o.Value != nil {
			value = *o.Value
		}
		if o.Masked || c.policy.IsSensitive(o.Name, o.FieldID, o.FieldType) {
			value = c.policy.Sentinel
		}
		return models.NewInput(0, locator, value), ""

	case models.KindKeyPress:
		if !AllowedKey(o.Key) {
			return models.Event{}, DropKeyNotAllowed
		}
		return models.NewKeyPress(0, o.Key), ""

	case models.KindRequest:
		if o.Method == "" || o.URL == "" {
			return models.Event{}, DropIncomplete
		}
		if isDataURL(o.URL) {
			return models.Event{}, DropDataURL
		}
		return models.NewRequest(0, o.Method, o.URL, c.body(o.PostData)), ""

	case models.KindResponse:
		if o.URL == "" {
			return models.Event{}, DropIncomplete
		}
		if isDataURL(o.URL) {
			return models.Event{}, DropDataURL
		}
		return models.NewResponse(0, o.Status, o.URL), ""
	}
	return models.Event{}, DropUnknownType
}

func (c *Channel) locate(o Occurrence) string {
	if len(o.Target) > 0 {
		return c.synth.Synthesize(o.Target.Element())
	}
	return o.Selector
}

func (c *Channel) body(data *string) *string {
	if data == nil {
		return nil
	}
	body := truncate(c.redactor.Redact(*data), c.maxBody)
	return &body
}

func (c *Channel) drop(kind, reason string) {
	c.logger.Debug("Dropping occurrence", zap.String("type", kind), zap.String("reason", reason))
	metrics.IncDropped(reason)
}
