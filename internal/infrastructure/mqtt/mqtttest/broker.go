package mqtttest

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/telemetry-edge/internal/infrastructure/mqtt"
)

// Option configures a Broker.
type Option func(*Broker)

// WithUser requires clients to authenticate. May be given more than once.
func WithUser(username, password string) Option {
	return func(b *Broker) {
		if b.users == nil {
			b.users = make(map[string]string)
		}
		b.users[username] = password
	}
}

// RefuseFilter makes the broker answer SUBACK 0x80 for filter.
func RefuseFilter(filter string) Option {
	return func(b *Broker) {
		b.refused[filter] = true
	}
}

// Silent makes the broker accept connections but never reply to CONNECT.
func Silent() Option {
	return func(b *Broker) {
		b.silent = true
	}
}

// WithRedelivery sends every QoS 1 delivery n extra times with DUP set,
// reusing the same message id.
func WithRedelivery(n int) Option {
	return func(b *Broker) {
		b.redeliver = n
	}
}

// WithTLS serves MQTT over TLS using cfg.
func WithTLS(cfg *tls.Config) Option {
	return func(b *Broker) {
		b.tlsConfig = cfg
	}
}

// Broker is an in-process MQTT broker.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Broker struct {
	ln        net.Listener
	tlsConfig *tls.Config

	users     map[string]string
	refused   map[string]bool
	silent    bool
	redeliver int

	mu       sync.Mutex
	sessions map[string]*session // by client id
	raw      map[net.Conn]struct{}
	closed   bool

	wg sync.WaitGroup
}

// session is one connected client.
type session struct {
	clientID string
	conn     net.Conn

	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[string]byte // filter -> granted QoS
	nextID uint16
	acked  []uint16
	gone   bool
}

// Start launches a broker on a loopback port and stops it when the test ends.
func Start(t testing.TB, opts ...Option) *Broker {
	t.Helper()

	b := &Broker{
		refused:  make(map[string]bool),
		sessions: make(map[string]*session),
		raw:      make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("mqtttest: listen: %v", err)
	}
	if b.tlsConfig != nil {
		ln = tls.NewListener(ln, b.tlsConfig)
	}
	b.ln = ln

	b.wg.Add(1)
	go b.acceptLoop()

	t.Cleanup(b.Close)
	return b
}

// Addr returns the broker address, with scheme ssl when serving TLS.
func (b *Broker) Addr() mqtt.BrokerAddress {
	tcp := b.ln.Addr().(*net.TCPAddr)
	scheme := "tcp"
	if b.tlsConfig != nil {
		scheme = "ssl"
	}
	return mqtt.BrokerAddress{Scheme: scheme, Host: "127.0.0.1", Port: tcp.Port}
}

// Close stops accepting and drops every connection.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	conns := make([]net.Conn, 0, len(b.raw))
	for c := range b.raw {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	b.ln.Close()
	for _, c := range conns {
		c.Close()
	}
	b.wg.Wait()
}

func (b *Broker) acceptLoop() {
	defer b.wg.Done()
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			return
		}

		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			conn.Close()
			return
		}
		b.raw[conn] = struct{}{}
		b.mu.Unlock()

		b.wg.Add(1)
		go b.serve(conn)
	}
}

func (b *Broker) serve(conn net.Conn) {
	defer b.wg.Done()
	defer func() {
		conn.Close()
		b.mu.Lock()
		delete(b.raw, conn)
		b.mu.Unlock()
	}()

	if b.silent {
		io.Copy(io.Discard, conn)
		return
	}

	cp, err := packets.ReadPacket(conn)
	if err != nil {
		return
	}
	connect, ok := cp.(*packets.ConnectPacket)
	if !ok {
		return
	}

	if rc := b.authenticate(connect); rc != packets.Accepted {
		ack := packets.NewControlPacket(packets.Connack).(*packets.ConnackPacket)
		ack.ReturnCode = rc
		ack.Write(conn)
		return
	}

	s := &session{
		clientID: connect.ClientIdentifier,
		conn:     conn,
		subs:     make(map[string]byte),
	}
	b.register(s)
	defer b.unregister(s)

	ack := packets.NewControlPacket(packets.Connack).(*packets.ConnackPacket)
	ack.ReturnCode = packets.Accepted
	if err := s.write(ack); err != nil {
		return
	}

	for {
		cp, err := packets.ReadPacket(conn)
		if err != nil {
			return
		}
		if done := b.handle(s, cp); done {
			return
		}
	}
}

func (b *Broker) authenticate(p *packets.ConnectPacket) byte {
	if b.users == nil {
		return packets.Accepted
	}
	if !p.UsernameFlag {
		return packets.ErrRefusedNotAuthorised
	}
	want, ok := b.users[p.Username]
	if !ok || want != string(p.Password) {
		return packets.ErrRefusedBadUsernameOrPassword
	}
	return packets.Accepted
}

// register installs s, evicting any earlier connection with the same client id.
func (b *Broker) register(s *session) {
	b.mu.Lock()
	old := b.sessions[s.clientID]
	b.sessions[s.clientID] = s
	b.mu.Unlock()

	if old != nil {
		old.drop()
	}
}

func (b *Broker) unregister(s *session) {
	b.mu.Lock()
	if b.sessions[s.clientID] == s {
		delete(b.sessions, s.clientID)
	}
	b.mu.Unlock()
	s.drop()
}

// handle processes one packet and reports whether the connection should end.
func (b *Broker) handle(s *session, cp packets.ControlPacket) bool {
	switch p := cp.(type) {
	case *packets.SubscribePacket:
		ack := packets.NewControlPacket(packets.Suback).(*packets.SubackPacket)
		ack.MessageID = p.MessageID
		for i, filter := range p.Topics {
			if b.refused[filter] || mqtt.ValidateTopicFilter(filter) != nil {
				ack.ReturnCodes = append(ack.ReturnCodes, 0x80)
				continue
			}
			granted := min(p.Qoss[i], 1)
			s.mu.Lock()
			s.subs[filter] = granted
			s.mu.Unlock()
			ack.ReturnCodes = append(ack.ReturnCodes, granted)
		}
		return s.write(ack) != nil

	case *packets.UnsubscribePacket:
		s.mu.Lock()
		for _, filter := range p.Topics {
			delete(s.subs, filter)
		}
		s.mu.Unlock()
		ack := packets.NewControlPacket(packets.Unsuback).(*packets.UnsubackPacket)
		ack.MessageID = p.MessageID
		return s.write(ack) != nil

	case *packets.PublishPacket:
		switch p.Qos {
		case 1:
			ack := packets.NewControlPacket(packets.Puback).(*packets.PubackPacket)
			ack.MessageID = p.MessageID
			if s.write(ack) != nil {
				return true
			}
		case 2:
			rec := packets.NewControlPacket(packets.Pubrec).(*packets.PubrecPacket)
			rec.MessageID = p.MessageID
			if s.write(rec) != nil {
				return true
			}
		}
		b.Publish(p.TopicName, p.Payload, p.Qos)
		return false

	case *packets.PubrelPacket:
		comp := packets.NewControlPacket(packets.Pubcomp).(*packets.PubcompPacket)
		comp.MessageID = p.MessageID
		return s.write(comp) != nil

	case *packets.PubackPacket:
		s.mu.Lock()
		s.acked = append(s.acked, p.MessageID)
		s.mu.Unlock()
		return false

	case *packets.PingreqPacket:
		return s.write(packets.NewControlPacket(packets.Pingresp)) != nil

	case *packets.DisconnectPacket:
		return true

	default:
		return false
	}
}

// Publish delivers a message to every matching subscriber as if a client had
// published it. QoS is capped at 1. It returns the number of deliveries.
func (b *Broker) Publish(topic string, payload []byte, qos byte) int {
	b.mu.Lock()
	targets := make([]*session, 0, len(b.sessions))
	for _, s := range b.sessions {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	delivered := 0
	for _, s := range targets {
		granted, ok := s.match(topic)
		if !ok {
			continue
		}
		if s.deliver(topic, payload, min(qos, granted, 1), b.redeliver) == nil {
			delivered++
		}
	}
	return delivered
}

// Sever drops a client's socket without sending anything, as a network
// failure would. It reports whether the client was connected.
func (b *Broker) Sever(clientID string) bool {
	b.mu.Lock()
	s := b.sessions[clientID]
	b.mu.Unlock()
	if s == nil {
		return false
	}
	s.drop()
	return true
}

// Connected reports whether clientID currently holds a connection.
func (b *Broker) Connected(clientID string) bool {
	b.mu.Lock()
	s := b.sessions[clientID]
	b.mu.Unlock()
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.gone
}

// Subscribed reports whether clientID holds a subscription on filter.
func (b *Broker) Subscribed(clientID, filter string) bool {
	b.mu.Lock()
	s := b.sessions[clientID]
	b.mu.Unlock()
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[filter]
	return ok
}

// Acked returns the message ids clientID has acknowledged, in order.
func (b *Broker) Acked(clientID string) []uint16 {
	b.mu.Lock()
	s := b.sessions[clientID]
	b.mu.Unlock()
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint16(nil), s.acked...)
}

// WaitFor polls cond until it holds or timeout elapses.
func WaitFor(t testing.TB, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("mqtttest: timed out after %v waiting for %s", timeout, what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (s *session) match(topic string) (byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return 0, false
	}
	var best byte
	found := false
	for filter, granted := range s.subs {
		if mqtt.MatchTopic(filter, topic) {
			if !found || granted > best {
				best = granted
			}
			found = true
		}
	}
	return best, found
}

func (s *session) deliver(topic string, payload []byte, qos byte, redeliver int) error {
	pub := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
	pub.TopicName = topic
	pub.Payload = payload
	pub.Qos = qos

	if qos > 0 {
		s.mu.Lock()
		s.nextID++
		if s.nextID == 0 {
			s.nextID = 1
		}
		pub.MessageID = s.nextID
		s.mu.Unlock()
	}

	if err := s.write(pub); err != nil {
		return err
	}
	if qos == 0 {
		return nil
	}

	for i := 0; i < redeliver; i++ {
		pub.Dup = true
		if err := s.write(pub); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) write(p packets.ControlPacket) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := p.Write(s.conn); err != nil {
		return errors.New("mqtttest: write to " + strconv.Quote(s.clientID) + ": " + err.Error())
	}
	return nil
}

func (s *session) drop() {
	s.mu.Lock()
	s.gone = true
	s.mu.Unlock()
	s.conn.Close()
}
