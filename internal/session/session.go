package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/telemetry-edge/internal/infrastructure/mqtt"
)

// Config describes one subscriber session.
type Config struct {
	// Name identifies the session in logs and events.
	Name string

	// ClientID must be unique per broker. Empty generates "<name>-<8 hex>".
	ClientID string

	// Topic is the filter the session subscribes to.
	Topic string

	QoS          mqtt.QoS
	CleanSession bool

	// ConnectTimeout bounds the connect phase of Start.
	ConnectTimeout time.Duration
	KeepAlive      time.Duration

	// EventBuffer is the dispatch queue depth.
	EventBuffer int
}

// StoreFactory opens the in-flight store for a client id. It is consulted
// only for sessions with CleanSession disabled.
type StoreFactory func(clientID string) (mqtt.Store, error)

// Builder creates sessions that share one broker, credentials and transport.
//
// A Builder is configured once and may then build sessions concurrently.
type Builder struct {
	Addr        mqtt.BrokerAddress
	Credentials mqtt.Credentials

	// Transport is shared by every session; required for secure addresses.
	Transport *mqtt.Transport

	// Stores is optional.
	Stores StoreFactory

	logger Logger
}

// SetLogger sets the logger passed to every session built afterwards.
func (b *Builder) SetLogger(logger Logger) {
	b.logger = logger
}

// Build validates cfg and returns a session in StateInit. Nothing touches
// the network until Start.
func (b *Builder) Build(cfg Config, handler Handler) (*Session, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if !cfg.QoS.Valid() {
		return nil, fmt.Errorf("%w: session %s: %w", ErrInvalidConfig, cfg.Name, mqtt.ErrInvalidQoS)
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: session %s: handler is required", ErrInvalidConfig, cfg.Name)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = GenerateClientID(cfg.Name)
	}
	if cfg.EventBuffer < 1 {
		cfg.EventBuffer = DefaultQueueDepth
	}

	var store mqtt.Store
	if b.Stores != nil && !cfg.CleanSession {
		s, err := b.Stores(cfg.ClientID)
		if err != nil {
			return nil, fmt.Errorf("session %s: opening in-flight store: %w", cfg.Name, err)
		}
		store = s
	}

	base := b.logger
	if base == nil {
		base = noopLogger{}
	}
	logger := sessionLogger{
		base:  base,
		attrs: []any{"session", cfg.Name, "client_id", cfg.ClientID, "broker", b.Addr.URL()},
	}

	return &Session{
		cfg:        cfg,
		addr:       b.Addr,
		creds:      b.Credentials,
		transport:  b.Transport,
		store:      store,
		logger:     logger,
		dispatcher: NewDispatcher(handler, cfg.EventBuffer, base),
		state:      StateInit,
		done:       make(chan struct{}),
	}, nil
}

// GenerateClientID returns "<name>-" followed by eight random hex digits.
func GenerateClientID(name string) string {
	id := uuid.New()
	return fmt.Sprintf("%s-%x", name, id[:4])
}

// Session is one subscriber: a client identity bound to one topic filter.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Session struct {
	cfg       Config
	addr      mqtt.BrokerAddress
	creds     mqtt.Credentials
	transport *mqtt.Transport
	store     mqtt.Store
	logger    sessionLogger

	dispatcher *Dispatcher

	mu      sync.Mutex
	state   State
	started bool
	client  *mqtt.Client
	sub     mqtt.Subscription
	err     error
	done    chan struct{}

	// cancel aborts a Start still connecting or subscribing.
	cancel context.CancelFunc
}

// Start connects, subscribes and begins dispatching events.
//
// It blocks for at most the connect timeout plus the SUBACK round trip, or
// until ctx is done. On failure the session is CLOSED and the error returned;
// there is no retry.
//
// Returns:
//   - error: nil once SUBSCRIBED; mqtt connect/subscribe errors otherwise,
//     ErrAlreadyStarted on a second call, ErrSessionClosed when Close ran
//     before or during Start
func (s *Session) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.cancel = cancel
	s.mu.Unlock()

	log := s.logger

	// The dispatcher runs before connect so that queued deliveries for a
	// persistent session have somewhere to go.
	s.dispatcher.Start()

	if !s.transition(StateConnecting) {
		return ErrSessionClosed
	}

	opts := mqtt.Options{
		ClientID:         s.cfg.ClientID,
		CleanSession:     s.cfg.CleanSession,
		ConnectTimeout:   s.cfg.ConnectTimeout,
		KeepAlive:        s.cfg.KeepAlive,
		Transport:        s.transport,
		Store:            s.store,
		OnConnectionLost: s.onConnectionLost,
		Logger:           s.logger,
	}
	if !s.cfg.CleanSession {
		opts.DefaultHandler = s.onMessage
	}

	log.Debug("connecting", "credentials", s.creds)
	client, err := mqtt.Connect(ctx, s.addr, s.creds, opts)
	if err != nil {
		if s.State() == StateClosed {
			return fmt.Errorf("%w: %w", ErrSessionClosed, err)
		}
		log.Error("session setup failed", "phase", "connect", "error", err)
		s.fail(err)
		return err
	}

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		client.Close()
		return ErrSessionClosed
	}
	s.client = client
	s.mu.Unlock()

	if !client.IsConnected() || !s.transition(StateConnected) {
		err := fmt.Errorf("%w: connection dropped before subscribe", mqtt.ErrNotConnected)
		log.Error("session setup failed", "phase", "connect", "error", err)
		s.fail(err)
		return err
	}
	log.Info("connected")

	sub, err := client.Subscribe(ctx, s.cfg.Topic, s.cfg.QoS, s.onMessage)
	if err != nil {
		log.Error("session setup failed", "phase", "subscribe", "topic", s.cfg.Topic, "error", err)
		s.fail(err)
		return err
	}

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	if !s.transition(StateSubscribed) {
		return s.terminalErr()
	}
	log.Info("subscribed",
		"topic", sub.Topic,
		"qos", sub.QoS.String(),
		"granted", sub.Granted.String(),
	)

	return nil
}

// onMessage runs on the MQTT client's router goroutine.
func (s *Session) onMessage(msg mqtt.Message) error {
	if !s.dispatcher.Post(messageEvent(s.cfg.Name, msg)) {
		return ErrSessionClosed
	}
	return nil
}

// onConnectionLost moves to LOST before the event is queued, so a handler
// observing the event also observes the terminal state.
func (s *Session) onConnectionLost(err error) {
	cause := ErrConnectionLost
	if err != nil {
		cause = fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}

	s.mu.Lock()
	if !canTransition(s.state, StateLost) {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateLost, cause)
	s.mu.Unlock()

	s.logger.Warn("connection lost", "error", cause)

	s.dispatcher.Post(Event{
		Kind:    EventConnectionLost,
		Session: s.cfg.Name,
		Cause:   cause,
		At:      time.Now(),
	})
	s.dispatcher.Finish()
}

// Publish sends a message through the session's connection and reports the
// broker's acknowledgement to the Handler.
func (s *Session) Publish(ctx context.Context, topic string, payload []byte, qos mqtt.QoS, retained bool) (mqtt.DeliveryRef, error) {
	s.mu.Lock()
	client := s.client
	state := s.state
	s.mu.Unlock()

	if state.Terminal() || client == nil {
		return mqtt.DeliveryRef{}, ErrSessionClosed
	}

	ref, err := client.Publish(ctx, topic, payload, qos, retained)
	if err != nil {
		return mqtt.DeliveryRef{}, err
	}

	s.dispatcher.Post(Event{
		Kind:    EventDeliveryAcknowledged,
		Session: s.cfg.Name,
		Ref:     ref,
		At:      time.Now(),
	})
	return ref, nil
}

// Close disconnects and stops dispatching. Queued events are abandoned.
// It is idempotent; closing a LOST session only releases resources.
func (s *Session) Close() error {
	s.mu.Lock()
	client := s.client
	cancel := s.cancel
	if canTransition(s.state, StateClosed) {
		s.setStateLocked(StateClosed, nil)
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.dispatcher.Stop()
	if client != nil {
		client.Close()
	}
	s.closeStore()
	return nil
}

// fail closes the session after a setup error. A session that was already
// lost keeps that state and its dispatcher finishes delivering the loss.
func (s *Session) fail(err error) {
	s.mu.Lock()
	client := s.client
	cancel := s.cancel
	closing := canTransition(s.state, StateClosed)
	if closing {
		s.setStateLocked(StateClosed, err)
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closing {
		s.dispatcher.Stop()
	}
	if client != nil {
		client.Close()
	}
	s.closeStore()
}

// closeStore releases the in-flight store. Stores must tolerate a second
// Close, since paho also closes its store on disconnect.
func (s *Session) closeStore() {
	if s.store != nil {
		s.store.Close()
	}
}

// transition advances the state if the lifecycle allows it.
func (s *Session) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.state, to) {
		return false
	}
	s.setStateLocked(to, nil)
	return true
}

func (s *Session) setStateLocked(to State, err error) {
	s.state = to
	if to.Terminal() {
		s.err = err
		close(s.done)
	}
}

func (s *Session) terminalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	return ErrSessionClosed
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the session reaches LOST or CLOSED.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Drained is closed once the dispatcher has exited: after a loss its final
// events have been handled, after Close queued events were abandoned.
func (s *Session) Drained() <-chan struct{} {
	return s.dispatcher.Done()
}

// Err returns why the session ended: the connection loss cause for LOST, the
// setup error for a failed Start, nil otherwise.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Name returns the configured session name.
func (s *Session) Name() string {
	return s.cfg.Name
}

// Config returns the effective configuration, including a generated client id.
func (s *Session) Config() Config {
	return s.cfg
}

// Subscription returns the accepted subscription; zero before SUBSCRIBED.
func (s *Session) Subscription() mqtt.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub
}

// IsConnected reports whether the underlying client is connected.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	return client.IsConnected()
}

// HealthCheck reports an error unless the session is subscribed, connected
// and its subscription route is still registered.
func (s *Session) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	client := s.client
	state := s.state
	topic := s.sub.Topic
	s.mu.Unlock()

	if state != StateSubscribed {
		return fmt.Errorf("session %s: state %s", s.cfg.Name, state)
	}
	if err := client.HealthCheck(ctx); err != nil {
		return err
	}
	if !client.HasSubscription(topic) {
		return fmt.Errorf("session %s: no route for %q", s.cfg.Name, topic)
	}
	return nil
}

// Backlog returns the number of events queued for the Handler.
func (s *Session) Backlog() int {
	return s.dispatcher.Pending()
}

// sessionLogger prefixes every entry with the session's identity.
type sessionLogger struct {
	base  Logger
	attrs []any
}

func (l sessionLogger) with(args []any) []any {
	return append(append(make([]any, 0, len(l.attrs)+len(args)), l.attrs...), args...)
}

func (l sessionLogger) Debug(msg string, args ...any) { l.base.Debug(msg, l.with(args)...) }
func (l sessionLogger) Info(msg string, args ...any)  { l.base.Info(msg, l.with(args)...) }
func (l sessionLogger) Warn(msg string, args ...any)  { l.base.Warn(msg, l.with(args)...) }
func (l sessionLogger) Error(msg string, args ...any) { l.base.Error(msg, l.with(args)...) }
