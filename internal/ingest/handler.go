package ingest

import (
	"sync/atomic"
	"time"

	"github.com/nerrad567/telemetry-edge/internal/infrastructure/influxdb"
	"github.com/nerrad567/telemetry-edge/internal/infrastructure/mqtt"
	"github.com/nerrad567/telemetry-edge/internal/session"
)

// maxLoggedPayload bounds the payload bytes copied into a log entry.
const maxLoggedPayload = 256

// Sink receives readings and session events. *influxdb.Client satisfies it.
type Sink interface {
	WriteReading(r influxdb.Reading)
	WriteSessionEvent(sessionName, event, detail string, at time.Time)
}

// Logger is the logging interface used by Handler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats counts what a Handler has seen.
type Stats struct {
	Readings       uint64
	Duplicates     uint64
	Acknowledged   uint64
	ConnectionLost uint64
}

// Handler implements session.Handler for one session.
//
// Thread Safety:
//   - Event methods are called serially by the session dispatcher.
//   - Stats may be called concurrently.
type Handler struct {
	session string
	sink    Sink
	logger  Logger

	readings   atomic.Uint64
	duplicates atomic.Uint64
	acked      atomic.Uint64
	lost       atomic.Uint64
}

var _ session.Handler = (*Handler)(nil)

// NewHandler creates the handler for the named session. sink and logger may
// be nil.
func NewHandler(sessionName string, sink Sink, logger Logger) *Handler {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Handler{
		session: sessionName,
		sink:    sink,
		logger:  logger,
	}
}

// OnMessageArrived logs the reading and forwards it to the sink.
func (h *Handler) OnMessageArrived(msg session.Message) error {
	h.readings.Add(1)
	if msg.Duplicate {
		h.duplicates.Add(1)
	}

	h.logger.Info("reading received",
		"session", h.session,
		"topic", msg.Topic,
		"payload", loggablePayload(msg.Payload),
		"qos", msg.QoS.String(),
		"message_id", msg.MessageID,
		"duplicate", msg.Duplicate,
		"retained", msg.Retained,
	)

	if h.sink != nil {
		h.sink.WriteReading(influxdb.Reading{
			Session:   h.session,
			Topic:     msg.Topic,
			Payload:   msg.Payload,
			QoS:       int(msg.QoS),
			Duplicate: msg.Duplicate,
			At:        msg.ReceivedAt,
		})
	}
	return nil
}

// OnConnectionLost logs the loss and records it as a session event.
func (h *Handler) OnConnectionLost(cause error) {
	h.lost.Add(1)

	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	h.logger.Warn("connection lost", "session", h.session, "cause", detail)

	if h.sink != nil {
		h.sink.WriteSessionEvent(h.session, string(session.EventConnectionLost), detail, time.Now())
	}
}

// OnDeliveryAcknowledged logs the broker's confirmation of an outbound publish.
func (h *Handler) OnDeliveryAcknowledged(ref mqtt.DeliveryRef) {
	h.acked.Add(1)
	h.logger.Debug("delivery acknowledged",
		"session", h.session,
		"topic", ref.Topic,
		"message_id", ref.MessageID,
		"qos", ref.QoS.String(),
	)
}

// Stats returns a snapshot of the handler's counters.
func (h *Handler) Stats() Stats {
	return Stats{
		Readings:       h.readings.Load(),
		Duplicates:     h.duplicates.Load(),
		Acknowledged:   h.acked.Load(),
		ConnectionLost: h.lost.Load(),
	}
}

func loggablePayload(p []byte) string {
	if len(p) > maxLoggedPayload {
		return string(p[:maxLoggedPayload]) + "..."
	}
	return string(p)
}
