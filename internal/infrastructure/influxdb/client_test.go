package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/telemetry-edge/internal/infrastructure/config"
	"github.com/nerrad567/telemetry-edge/internal/infrastructure/influxdb"
)

// fakeInflux is a minimal InfluxDB v2 HTTP endpoint. It answers /ping and
// records the bodies of /api/v2/write requests.
type fakeInflux struct {
	*httptest.Server

	mu          sync.Mutex
	writes      []string
	queries     []string
	pingStatus  int
	writeStatus int
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{pingStatus: http.StatusNoContent, writeStatus: http.StatusNoContent}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	pingStatus, writeStatus := f.pingStatus, f.writeStatus
	f.mu.Unlock()

	switch {
	case strings.HasSuffix(r.URL.Path, "/ping"):
		w.WriteHeader(pingStatus)
	case strings.HasSuffix(r.URL.Path, "/write"):
		body, _ := io.ReadAll(r.Body)
		if writeStatus >= http.StatusBadRequest {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(writeStatus)
			_, _ = w.Write([]byte(`{"code":"invalid","message":"rejected by test"}`))
			return
		}
		f.mu.Lock()
		f.writes = append(f.writes, string(body))
		f.queries = append(f.queries, r.URL.RawQuery)
		f.mu.Unlock()
		w.WriteHeader(writeStatus)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeInflux) setStatus(ping, write int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingStatus = ping
	f.writeStatus = write
}

func (f *fakeInflux) written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.writes, "\n")
}

func (f *fakeInflux) query() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.queries, "&")
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "test-token",
		Org:           "telemetry",
		Bucket:        "readings",
		BatchSize:     1,
		FlushInterval: 1,
	}
}

func connect(t *testing.T, f *fakeInflux) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(testConfig(f.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:8086")
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	f := newFakeInflux(t)
	url := f.URL
	f.Close()

	_, err := influxdb.Connect(testConfig(url))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_PingRejected(t *testing.T) {
	f := newFakeInflux(t)
	f.setStatus(http.StatusServiceUnavailable, http.StatusNoContent)

	_, err := influxdb.Connect(testConfig(f.URL))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	f := newFakeInflux(t)
	cfg := testConfig(f.URL)
	cfg.BatchSize = -5
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect() with default batch settings")
	}
}

// =============================================================================
// Health Check Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	f.setStatus(http.StatusServiceUnavailable, http.StatusNoContent)
	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() should fail once the server stops answering pings")
	}
}

func TestHealthCheck_Cancelled(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() should return error for cancelled context")
	}
}

func TestHealthCheck_AfterClose(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)
	_ = client.Close()

	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWriteReading(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	client.WriteReading(influxdb.Reading{
		Session: "sediment",
		Topic:   "tk/sensor/logger1/sandfang",
		Payload: []byte("12.5"),
		QoS:     2,
		At:      time.Unix(1700000000, 0),
	})
	client.Flush()

	waitFor(t, "reading write", func() bool {
		return strings.Contains(f.written(), "sensor_reading")
	})

	body := f.written()
	for _, want := range []string{"session=sediment", "topic=tk/sensor/logger1/sandfang", `raw="12.5"`, "value=12.5"} {
		if !strings.Contains(body, want) {
			t.Errorf("write body %q missing %q", body, want)
		}
	}

	q := f.query()
	if !strings.Contains(q, "org=telemetry") || !strings.Contains(q, "bucket=readings") {
		t.Errorf("write query = %q, want org and bucket", q)
	}
}

func TestWriteSessionEvent(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)

	client.WriteSessionEvent("water-level", "connection_lost", "EOF", time.Now())
	client.Flush()

	waitFor(t, "event write", func() bool {
		return strings.Contains(f.written(), "session_event,session=water-level")
	})
}

func TestWriteReading_ErrorCallback(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)
	f.setStatus(http.StatusNoContent, http.StatusBadRequest)

	var (
		mu       sync.Mutex
		writeErr error
	)
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	client.WriteReading(influxdb.Reading{Session: "sediment", Topic: "t", Payload: []byte("1")})
	client.Flush()

	waitFor(t, "write error callback", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return writeErr != nil
	})

	mu.Lock()
	defer mu.Unlock()
	if !errors.Is(writeErr, influxdb.ErrWriteFailed) {
		t.Errorf("callback error = %v, want ErrWriteFailed", writeErr)
	}
}

func TestWriteReading_AfterCloseDropped(t *testing.T) {
	f := newFakeInflux(t)
	client := connect(t, f)
	_ = client.Close()

	client.WriteReading(influxdb.Reading{Session: "sediment", Topic: "t", Payload: []byte("1")})
	client.Flush()

	time.Sleep(50 * time.Millisecond)
	if body := f.written(); body != "" {
		t.Errorf("write after Close reached server: %q", body)
	}
}

// =============================================================================
// Close Tests
// =============================================================================

func TestClose(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(f.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	client.WriteReading(influxdb.Reading{Session: "sediment", Topic: "close-test", Payload: []byte("1")})

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	waitFor(t, "flush on close", func() bool {
		return strings.Contains(f.written(), "topic=close-test")
	})
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("nil IsConnected() = true")
	}
}
