package database

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

// storeOpTimeout bounds each SQL statement issued by an InflightStore.
const storeOpTimeout = 5 * time.Second

// ErrStoreClosed is logged when an InflightStore is used while not open.
var ErrStoreClosed = errors.New("database: inflight store not open")

// Logger is the logging interface used by InflightStore.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// InflightStore persists unacknowledged QoS 1 and 2 packets for one MQTT
// client id so that a clean_session=false session can resume them after a
// restart. It implements the paho Store interface on top of the
// inflight_messages table; rows are keyed by (client_id, key) where key is
// paho's "i.<id>" / "o.<id>" message key.
//
// The paho Store interface has no error returns, so SQL failures are logged
// and the operation is dropped.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Many stores may share one DB.
type InflightStore struct {
	db       *DB
	clientID string
	logger   Logger

	mu     sync.RWMutex
	opened bool
}

var _ pahomqtt.Store = (*InflightStore)(nil)

// NewInflightStore returns a closed store for clientID. The
// inflight_messages table must already exist (see Migrate).
func NewInflightStore(db *DB, clientID string, logger Logger) *InflightStore {
	if logger == nil {
		logger = noopLogger{}
	}
	return &InflightStore{db: db, clientID: clientID, logger: logger}
}

// Open marks the store usable. paho calls it on every connect.
func (s *InflightStore) Open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
}

// Close marks the store unusable. The shared DB stays open. Calling Close
// more than once is harmless.
func (s *InflightStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
}

// Put stores or replaces the packet under key.
func (s *InflightStore) Put(key string, message packets.ControlPacket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.usable("put", key) {
		return
	}

	var buf bytes.Buffer
	if err := message.Write(&buf); err != nil {
		s.logger.Error("encoding inflight packet failed", "client_id", s.clientID, "key", key, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inflight_messages (client_id, key, packet, stored_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (client_id, key) DO UPDATE SET
			packet = excluded.packet,
			stored_at = excluded.stored_at
	`, s.clientID, key, buf.Bytes(), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		s.logger.Error("storing inflight packet failed", "client_id", s.clientID, "key", key, "error", err)
	}
}

// Get returns the packet stored under key, or nil if there is none. A row
// that no longer decodes is deleted and nil is returned.
func (s *InflightStore) Get(key string) packets.ControlPacket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.usable("get", key) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT packet FROM inflight_messages WHERE client_id = ? AND key = ?",
		s.clientID, key,
	).Scan(&blob)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Error("loading inflight packet failed", "client_id", s.clientID, "key", key, "error", err)
		}
		return nil
	}

	cp, err := packets.ReadPacket(bytes.NewReader(blob))
	if err != nil {
		s.logger.Warn("discarding corrupt inflight packet", "client_id", s.clientID, "key", key, "error", err)
		s.del(key)
		return nil
	}
	return cp
}

// All returns every key held for the client id in insertion order.
func (s *InflightStore) All() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.usable("all", "") {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		"SELECT key FROM inflight_messages WHERE client_id = ? ORDER BY rowid",
		s.clientID,
	)
	if err != nil {
		s.logger.Error("listing inflight packets failed", "client_id", s.clientID, "error", err)
		return nil
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			s.logger.Error("scanning inflight key failed", "client_id", s.clientID, "error", err)
			return nil
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("iterating inflight keys failed", "client_id", s.clientID, "error", err)
		return nil
	}
	return keys
}

// Del removes key. Removing a missing key is not an error.
func (s *InflightStore) Del(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.usable("del", key) {
		return
	}
	s.del(key)
}

// Reset removes every packet held for the client id. Other client ids
// sharing the DB are untouched.
func (s *InflightStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.usable("reset", "") {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM inflight_messages WHERE client_id = ?", s.clientID,
	); err != nil {
		s.logger.Error("resetting inflight store failed", "client_id", s.clientID, "error", err)
	}
}

// Count returns the number of packets held for the client id regardless of
// whether the store is open.
func (s *InflightStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM inflight_messages WHERE client_id = ?", s.clientID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting inflight packets: %w", err)
	}
	return n, nil
}

// del deletes one row; the caller holds s.mu.
func (s *InflightStore) del(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM inflight_messages WHERE client_id = ? AND key = ?",
		s.clientID, key,
	); err != nil {
		s.logger.Error("deleting inflight packet failed", "client_id", s.clientID, "key", key, "error", err)
	}
}

func (s *InflightStore) usable(op, key string) bool {
	if s.opened {
		return true
	}
	s.logger.Warn("inflight store used while closed", "client_id", s.clientID, "op", op, "key", key, "error", ErrStoreClosed)
	return false
}
