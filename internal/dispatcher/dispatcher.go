package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/patrolkit/engine/pkg/core"
)

// HandlerFunc processes one inbound event.
type HandlerFunc func(core.InboundEvent) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	bufferSize int
	blocking   bool
	logged     bool
}

// Buffered makes the handler async with a queue of the given size.
func Buffered(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// Blocking makes a buffered handler block when the queue is full instead of dropping.
func Blocking() Option {
	return func(c *config) {
		c.blocking = true
	}
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Dispatcher routes inbound events to registered handlers. The event
// kinds form a closed set; events arriving with an unregistered or
// unknown kind are counted and dropped, never fanned out.
type Dispatcher struct {
	handlers map[core.EventKind]HandlerFunc
	logger   Logger

	// OTEL metrics
	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter

	// Track buffers for gauge callback
	mu      sync.RWMutex
	buffers map[core.EventKind]chan core.InboundEvent
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[core.EventKind]HandlerFunc),
		buffers:  make(map[core.EventKind]chan core.InboundEvent),
		logger:   logger,
	}

	m := meter()

	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Current number of events in queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			for kind, buf := range d.buffers {
				o.ObserveInt64(d.queueSize, int64(len(buf)),
					metric.WithAttributes(attribute.String("event", string(kind))))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.processed, err = m.Int64Counter(
		"dispatcher.events.processed",
		metric.WithDescription("Total events processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"dispatcher.events.dropped",
		metric.WithDescription("Total events dropped due to full queue or unknown kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given event kind with optional configuration.
func (d *Dispatcher) Register(kind core.EventKind, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h

	if cfg.bufferSize > 0 {
		handler = d.withBuffer(kind, cfg.bufferSize, cfg.blocking, handler)
	}

	if cfg.logged {
		handler = d.withLogging(kind, handler)
	}

	d.handlers[kind] = handler
}

// Dispatch routes an event to its registered handler. Unknown kinds are
// logged and counted as dropped but return no error; the unit's firmware
// may be newer than this build.
func (d *Dispatcher) Dispatch(e core.InboundEvent) error {
	h, ok := d.handlers[e.Kind]
	if !ok {
		d.logger.Info("ignoring event with no handler", "kind", e.Kind, "raw", e.RawKind)
		d.dropped.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("event", string(e.Kind))))
		return nil
	}
	return h(e)
}

// HasHandler returns true if a handler is registered for the event kind.
func (d *Dispatcher) HasHandler(kind core.EventKind) bool {
	_, ok := d.handlers[kind]
	return ok
}

func (d *Dispatcher) withBuffer(kind core.EventKind, size int, blocking bool, h HandlerFunc) HandlerFunc {
	buffer := make(chan core.InboundEvent, size)

	d.mu.Lock()
	d.buffers[kind] = buffer
	d.mu.Unlock()

	kindAttr := attribute.String("event", string(kind))

	go func() {
		for e := range buffer {
			h(e)
			d.processed.Add(context.Background(), 1, metric.WithAttributes(kindAttr))
		}
	}()

	if blocking {
		return func(e core.InboundEvent) error {
			buffer <- e
			return nil
		}
	}

	return func(e core.InboundEvent) error {
		select {
		case buffer <- e:
			return nil
		default:
			d.dropped.Add(context.Background(), 1, metric.WithAttributes(kindAttr))
			return fmt.Errorf("queue full: %s", kind)
		}
	}
}

func (d *Dispatcher) withLogging(kind core.EventKind, h HandlerFunc) HandlerFunc {
	return func(e core.InboundEvent) error {
		start := time.Now()
		d.logger.Debug("handling event", "kind", kind)

		err := h(e)

		if err != nil {
			d.logger.Error("event failed", "kind", kind, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("event complete", "kind", kind, "duration", time.Since(start))
		}

		return err
	}
}
