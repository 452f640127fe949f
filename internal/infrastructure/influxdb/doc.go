// Package influxdb provides the InfluxDB readings sink for the telemetry edge.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring. Each reading
// that arrives on a subscriber session becomes one point in the
// sensor_reading measurement.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8086",
//	    Token:   os.Getenv("TELEMETRY_INFLUXDB_TOKEN"),
//	    Org:     "telemetry",
//	    Bucket:  "readings",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteReading(influxdb.Reading{
//	    Session: "sediment",
//	    Topic:   "tk/sensor/logger1/sandfang",
//	    Payload: []byte("12.5"),
//	    At:      time.Now(),
//	})
//
// # Point Layout
//
//	measurement: sensor_reading
//	tags:        session, topic
//	fields:      raw (string), value (float, only when the payload parses),
//	             qos (int), duplicate (bool)
//
// Session lifecycle events (connection lost) are written to the
// session_event measurement.
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via the
// SetOnError callback. Connection and health check errors are returned directly.
package influxdb
