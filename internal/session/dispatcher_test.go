package session

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/telemetry-edge/internal/infrastructure/mqtt"
)

// captureLogger records log calls for assertions.
type captureLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *captureLogger) record(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var b strings.Builder
	b.WriteString(level + " " + msg)
	for _, a := range args {
		if err, ok := a.(error); ok {
			b.WriteString(" " + err.Error())
		}
	}
	l.entries = append(l.entries, b.String())
}

func (l *captureLogger) Debug(msg string, args ...any) { l.record("DEBUG", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("INFO", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("WARN", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("ERROR", msg, args...) }

func (l *captureLogger) contains(s string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if strings.Contains(e, s) {
			return true
		}
	}
	return false
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func msgEvent(payload string) Event {
	return Event{Kind: EventMessageArrived, Session: "sediment", Topic: "tk/sensor/logger1/sandfang", Payload: []byte(payload)}
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	all := make(chan struct{})

	d := NewDispatcher(Handlers{
		MessageArrived: func(msg Message) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, string(msg.Payload))
			if len(got) == 50 {
				close(all)
			}
			return nil
		},
	}, 4, nil)
	d.Start()
	defer d.Stop()

	for i := 0; i < 50; i++ {
		if !d.Post(msgEvent(string(rune('A' + i%26)))) {
			t.Fatal("Post() = false on running dispatcher")
		}
	}
	waitClosed(t, all, "all events")

	mu.Lock()
	defer mu.Unlock()
	for i, p := range got {
		if want := string(rune('A' + i%26)); p != want {
			t.Fatalf("event %d = %q, want %q", i, p, want)
		}
	}
}

func TestDispatcher_RoutesEventKinds(t *testing.T) {
	var (
		lostCause error
		ackRef    mqtt.DeliveryRef
		arrived   Message
	)
	done := make(chan struct{}, 3)

	d := NewDispatcher(Handlers{
		MessageArrived:       func(msg Message) error { arrived = msg; done <- struct{}{}; return nil },
		ConnectionLost:       func(cause error) { lostCause = cause; done <- struct{}{} },
		DeliveryAcknowledged: func(ref mqtt.DeliveryRef) { ackRef = ref; done <- struct{}{} },
	}, 0, nil)
	d.Start()
	defer d.Stop()

	d.Post(msgEvent("12.5"))
	d.Post(Event{Kind: EventDeliveryAcknowledged, Ref: mqtt.DeliveryRef{MessageID: 7, Topic: "t", QoS: 1}})
	d.Post(Event{Kind: EventConnectionLost, Cause: ErrConnectionLost})

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for handler")
		}
	}

	if string(arrived.Payload) != "12.5" || arrived.Session != "sediment" {
		t.Errorf("arrived = %+v", arrived)
	}
	if ackRef.MessageID != 7 {
		t.Errorf("ack ref = %+v", ackRef)
	}
	if !errors.Is(lostCause, ErrConnectionLost) {
		t.Errorf("lost cause = %v", lostCause)
	}
}

func TestDispatcher_RecoversPanicAndLogsErrors(t *testing.T) {
	logger := &captureLogger{}
	second := make(chan struct{})

	calls := 0
	d := NewDispatcher(Handlers{
		MessageArrived: func(msg Message) error {
			calls++
			switch calls {
			case 1:
				panic("handler bug")
			case 2:
				return errors.New("sink unavailable")
			default:
				close(second)
				return nil
			}
		},
	}, 0, logger)
	d.Start()
	defer d.Stop()

	d.Post(msgEvent("a"))
	d.Post(msgEvent("b"))
	d.Post(msgEvent("c"))
	waitClosed(t, second, "third delivery")

	if !logger.contains("panic recovered") {
		t.Error("panic was not logged")
	}
	if !logger.contains(ErrDispatch.Error()) || !logger.contains("sink unavailable") {
		t.Error("handler error not logged as ErrDispatch")
	}
}

func TestDispatcher_PostAfterStop(t *testing.T) {
	d := NewDispatcher(Handlers{}, 1, nil)
	d.Start()
	d.Stop()
	d.Stop()

	if d.Post(msgEvent("x")) {
		t.Error("Post() = true after Stop")
	}
	waitClosed(t, d.Done(), "dispatcher exit")
}

func TestDispatcher_StopBeforeStart(t *testing.T) {
	d := NewDispatcher(Handlers{}, 1, nil)
	d.Stop()
	waitClosed(t, d.Done(), "Done after Stop without Start")
	d.Start()
}

func TestDispatcher_BackpressureAndStop(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)

	d := NewDispatcher(Handlers{
		MessageArrived: func(Message) error {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-release
			return nil
		},
	}, 1, nil)
	d.Start()

	d.Post(msgEvent("1")) // taken by the consumer
	<-entered
	d.Post(msgEvent("2")) // fills the queue

	blocked := make(chan bool, 1)
	go func() { blocked <- d.Post(msgEvent("3")) }()

	select {
	case <-blocked:
		t.Fatal("Post() returned while the queue was full")
	case <-time.After(100 * time.Millisecond):
	}

	d.Stop()
	select {
	case ok := <-blocked:
		if ok {
			t.Error("blocked Post() = true after Stop")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("blocked Post() not released by Stop")
	}
	close(release)
	waitClosed(t, d.Done(), "dispatcher exit")
}

func TestDispatcher_FinishDrainsQueue(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var got []string

	d := NewDispatcher(Handlers{
		MessageArrived: func(msg Message) error {
			<-release
			mu.Lock()
			got = append(got, string(msg.Payload))
			mu.Unlock()
			return nil
		},
	}, 8, nil)

	d.Post(msgEvent("1"))
	d.Post(msgEvent("2"))
	d.Post(msgEvent("3"))
	d.Start()
	d.Finish()

	if d.Post(msgEvent("late")) {
		t.Error("Post() = true after Finish")
	}

	close(release)
	waitClosed(t, d.Done(), "dispatcher exit")

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(got, ",") != "1,2,3" {
		t.Errorf("delivered %v, want [1 2 3]", got)
	}
}
