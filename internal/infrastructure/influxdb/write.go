package influxdb

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the sink.
const (
	MeasurementReading = "sensor_reading"
	MeasurementEvent   = "session_event"
)

// Reading is one message received on a subscriber session.
type Reading struct {
	Session   string
	Topic     string
	Payload   []byte
	QoS       int
	Duplicate bool
	At        time.Time
}

// WriteReading records a reading as a sensor_reading point.
//
// The payload is always stored verbatim in the raw field. When it parses as a
// float it is also stored in value so it can be aggregated. The write is
// non-blocking; data is batched and sent asynchronously. Readings written
// after Close are dropped.
func (c *Client) WriteReading(r Reading) {
	c.enqueue(readingPoint(r))
}

// WriteSessionEvent records a session lifecycle event such as "connection_lost".
// detail may be empty.
func (c *Client) WriteSessionEvent(session, event, detail string, at time.Time) {
	c.enqueue(eventPoint(session, event, detail, at))
}

func readingPoint(r Reading) *write.Point {
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}

	fields := map[string]interface{}{
		"raw":       string(r.Payload),
		"qos":       r.QoS,
		"duplicate": r.Duplicate,
	}
	if v, ok := numericValue(r.Payload); ok {
		fields["value"] = v
	}

	return write.NewPoint(
		MeasurementReading,
		map[string]string{
			"session": r.Session,
			"topic":   r.Topic,
		},
		fields,
		at,
	)
}

func eventPoint(session, event, detail string, at time.Time) *write.Point {
	if at.IsZero() {
		at = time.Now()
	}
	fields := map[string]interface{}{
		"event": event,
	}
	if detail != "" {
		fields["detail"] = detail
	}
	return write.NewPoint(
		MeasurementEvent,
		map[string]string{"session": session},
		fields,
		at,
	)
}

// numericValue parses payloads such as "12.5" or " 7\n". NaN and Inf are
// rejected because InfluxDB cannot store them.
func numericValue(payload []byte) (float64, bool) {
	s := strings.TrimSpace(string(payload))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
