package session

import (
	"time"

	"github.com/nerrad567/telemetry-edge/internal/infrastructure/mqtt"
)

// EventKind identifies the lifecycle event carried by an Event.
type EventKind string

const (
	EventMessageArrived       EventKind = "message_arrived"
	EventConnectionLost       EventKind = "connection_lost"
	EventDeliveryAcknowledged EventKind = "delivery_acknowledged"
)

// Event is one entry in a session's dispatch queue. Only the fields relevant
// to Kind are set.
type Event struct {
	Kind    EventKind
	Session string

	// EventMessageArrived
	Topic     string
	Payload   []byte
	QoS       mqtt.QoS
	MessageID uint16
	Duplicate bool
	Retained  bool

	// EventDeliveryAcknowledged
	Ref mqtt.DeliveryRef

	// EventConnectionLost; never nil
	Cause error

	At time.Time
}

// Message is an inbound reading as seen by a Handler.
//
// Under at-least-once delivery the same reading may be delivered more than
// once; Duplicate is set when the broker flagged a redelivery.
type Message struct {
	Session    string
	Topic      string
	Payload    []byte
	QoS        mqtt.QoS
	MessageID  uint16
	Duplicate  bool
	Retained   bool
	ReceivedAt time.Time
}

// Message returns the message view of an EventMessageArrived event.
func (e Event) Message() Message {
	return Message{
		Session:    e.Session,
		Topic:      e.Topic,
		Payload:    e.Payload,
		QoS:        e.QoS,
		MessageID:  e.MessageID,
		Duplicate:  e.Duplicate,
		Retained:   e.Retained,
		ReceivedAt: e.At,
	}
}

func messageEvent(session string, msg mqtt.Message) Event {
	return Event{
		Kind:      EventMessageArrived,
		Session:   session,
		Topic:     msg.Topic,
		Payload:   msg.Payload,
		QoS:       msg.QoS,
		MessageID: msg.MessageID,
		Duplicate: msg.Duplicate,
		Retained:  msg.Retained,
		At:        time.Now(),
	}
}

// Handler consumes a session's events. Calls for one session are serial and
// in arrival order; a slow handler holds back later events and, through the
// bounded queue, the broker.
type Handler interface {
	// OnMessageArrived is called for every delivery, duplicates included.
	// A returned error is logged.
	OnMessageArrived(msg Message) error

	// OnConnectionLost is called once when the connection drops. cause is
	// never nil.
	OnConnectionLost(cause error)

	// OnDeliveryAcknowledged is called when the broker confirms an outbound
	// publish made through the session.
	OnDeliveryAcknowledged(ref mqtt.DeliveryRef)
}

// Handlers adapts plain functions to Handler. Nil fields are no-ops.
type Handlers struct {
	MessageArrived       func(msg Message) error
	ConnectionLost       func(cause error)
	DeliveryAcknowledged func(ref mqtt.DeliveryRef)
}

func (h Handlers) OnMessageArrived(msg Message) error {
	if h.MessageArrived == nil {
		return nil
	}
	return h.MessageArrived(msg)
}

func (h Handlers) OnConnectionLost(cause error) {
	if h.ConnectionLost != nil {
		h.ConnectionLost(cause)
	}
}

func (h Handlers) OnDeliveryAcknowledged(ref mqtt.DeliveryRef) {
	if h.DeliveryAcknowledged != nil {
		h.DeliveryAcknowledged(ref)
	}
}
