package session

import (
	"fmt"
	"sync"
)

// DefaultQueueDepth is the dispatch queue capacity when none is configured.
const DefaultQueueDepth = 64

// Logger defines the logging interface for sessions.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Dispatcher delivers events to a Handler from a single goroutine.
//
// Post blocks while the queue is full. Stop abandons queued events; Finish
// delivers what is already queued and then exits.
//
// Thread Safety:
//   - Post, Stop and Finish are safe for concurrent use.
//   - Neither Stop nor Finish waits for the consumer, so a Handler may call
//     them without deadlocking. Use Done to wait.
type Dispatcher struct {
	handler Handler
	logger  Logger
	queue   chan Event

	quit   chan struct{}
	finish chan struct{}
	done   chan struct{}

	startOnce  sync.Once
	stopOnce   sync.Once
	finishOnce sync.Once
}

// NewDispatcher creates a dispatcher with the given queue depth. A depth
// below one selects DefaultQueueDepth.
func NewDispatcher(handler Handler, depth int, logger Logger) *Dispatcher {
	if depth < 1 {
		depth = DefaultQueueDepth
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		handler: handler,
		logger:  logger,
		queue:   make(chan Event, depth),
		quit:    make(chan struct{}),
		finish:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the consumer goroutine. Later calls are no-ops.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		go d.run()
	})
}

// Post enqueues ev, blocking while the queue is full. It returns false if the
// dispatcher has been stopped or finished.
func (d *Dispatcher) Post(ev Event) bool {
	select {
	case <-d.quit:
		return false
	case <-d.finish:
		return false
	default:
	}

	select {
	case d.queue <- ev:
		return true
	case <-d.quit:
		return false
	case <-d.finish:
		return false
	}
}

// Stop ends delivery. Events still queued are dropped.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.quit) })
	d.startOnce.Do(func() { close(d.done) })
}

// Finish refuses new events, delivers the ones already queued and exits.
func (d *Dispatcher) Finish() {
	d.finishOnce.Do(func() { close(d.finish) })
	d.startOnce.Do(func() { close(d.done) })
}

// Done is closed once the consumer goroutine has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for {
		select {
		case <-d.quit:
			return
		case ev := <-d.queue:
			if d.stopped() {
				return
			}
			d.deliver(ev)
		case <-d.finish:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case ev := <-d.queue:
			if d.stopped() {
				return
			}
			d.deliver(ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) stopped() bool {
	select {
	case <-d.quit:
		return true
	default:
		return false
	}
}

// deliver invokes the handler for one event. Panics and errors are logged
// as ErrDispatch and go no further.
func (d *Dispatcher) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panic recovered",
				"session", ev.Session,
				"kind", string(ev.Kind),
				"panic", r,
				"error", ErrDispatch,
			)
		}
	}()

	switch ev.Kind {
	case EventMessageArrived:
		if err := d.handler.OnMessageArrived(ev.Message()); err != nil {
			d.logger.Warn("message handler returned error",
				"session", ev.Session,
				"topic", ev.Topic,
				"error", fmt.Errorf("%w: %w", ErrDispatch, err),
			)
		}
	case EventConnectionLost:
		d.handler.OnConnectionLost(ev.Cause)
	case EventDeliveryAcknowledged:
		d.handler.OnDeliveryAcknowledged(ev.Ref)
	default:
		d.logger.Warn("unknown event kind dropped", "session", ev.Session, "kind", string(ev.Kind))
	}
}
