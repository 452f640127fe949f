// Telemetry Edge - MQTT sensor ingestion
//
// This is the main entry point for the telemetry edge. It keeps one
// persistent subscriber session per configured sensor topic on a secured
// MQTT broker and hands every reading to the ingest handler, which logs it
// and optionally records it in InfluxDB.
//
// Sessions never reconnect on their own: the process runs while at least
// one session is live and exits once all of them are terminal or on
// SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/telemetry-edge/internal/infrastructure/config"
	"github.com/nerrad567/telemetry-edge/internal/infrastructure/database"
	"github.com/nerrad567/telemetry-edge/internal/infrastructure/influxdb"
	"github.com/nerrad567/telemetry-edge/internal/infrastructure/logging"
	"github.com/nerrad567/telemetry-edge/internal/infrastructure/mqtt"
	"github.com/nerrad567/telemetry-edge/internal/ingest"
	"github.com/nerrad567/telemetry-edge/internal/session"
	"github.com/nerrad567/telemetry-edge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when TELEMETRY_CONFIG is unset.
	defaultConfigPath = "configs/config.yaml"

	// statusInterval is how often session states are logged.
	statusInterval = time.Minute

	// healthCheckTimeout bounds each per-session check in the status log.
	healthCheckTimeout = 5 * time.Second

	// shutdownTimeout bounds the wait for sessions to drain after Close.
	shutdownTimeout = 10 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown (signal or every session ended), or the
//     fatal startup error
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting telemetry edge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	logging.InstallPahoLoggers(log, cfg.Logging.PahoDebug)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"sessions", len(cfg.Sessions),
	)

	builder, err := newBuilder(cfg)
	if err != nil {
		return fmt.Errorf("building transport: %w", err)
	}
	builder.SetLogger(log)

	if cfg.NeedsInflightStore() {
		db, err := openInflightDB(ctx, cfg.Persistence)
		if err != nil {
			return fmt.Errorf("opening in-flight store: %w", err)
		}
		defer func() {
			log.Info("closing in-flight store")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing in-flight store", "error", closeErr)
			}
		}()
		storeLog := log.With("component", "inflight_store")
		builder.Stores = func(clientID string) (mqtt.Store, error) {
			return database.NewInflightStore(db, clientID, storeLog), nil
		}
		log.Info("in-flight store ready", "path", db.Path())
	}

	var sink ingest.Sink
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		sink = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	sessions, err := buildSessions(cfg, builder, sink, log)
	if err != nil {
		return err
	}

	group := session.NewGroup(log, sessions...)
	group.Start(ctx)
	log.Info("sessions starting", "broker", builder.Addr.URL())

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-group.Done():
			log.Info("all sessions ended", "states", group.States())
			return nil
		case <-ticker.C:
			logStatus(ctx, group, log)
		case <-ctx.Done():
			log.Info("shutdown signal received, closing sessions")
			shutdown(group, log)
			log.Info("telemetry edge stopped")
			return nil
		}
	}
}

// newBuilder maps the broker and auth sections onto a session builder.
// A transport is created only for TLS brokers.
func newBuilder(cfg *config.Config) (*session.Builder, error) {
	b := &session.Builder{
		Addr: mqtt.BrokerAddress{
			Scheme: cfg.Broker.Scheme(),
			Host:   cfg.Broker.Host,
			Port:   cfg.Broker.Port,
		},
		Credentials: mqtt.Credentials{
			Username: cfg.Auth.Username,
			Password: cfg.Auth.Password,
		},
	}

	if b.Addr.Secure() {
		transport, err := mqtt.NewTransport(mqtt.TransportConfig{
			PinCA:  cfg.Broker.PinCA,
			CAFile: cfg.Broker.CAFile,
		})
		if err != nil {
			return nil, err
		}
		b.Transport = transport
	}
	return b, nil
}

// buildSessions creates one session per configured entry, each with its own
// ingest handler.
func buildSessions(cfg *config.Config, builder *session.Builder, sink ingest.Sink, log *logging.Logger) ([]*session.Session, error) {
	sessions := make([]*session.Session, 0, len(cfg.Sessions))
	for _, sc := range cfg.Sessions {
		r := cfg.Resolved(sc)
		handler := ingest.NewHandler(r.Name, sink, log)

		s, err := builder.Build(session.Config{
			Name:           r.Name,
			ClientID:       r.ClientID,
			Topic:          r.Topic,
			QoS:            mqtt.QoS(r.QoS), // #nosec G115 -- validated 0..2 by config
			CleanSession:   r.CleanSession,
			ConnectTimeout: r.ConnectTimeout,
			KeepAlive:      r.KeepAlive,
			EventBuffer:    cfg.Defaults.EventBuffer,
		}, handler)
		if err != nil {
			return nil, fmt.Errorf("building session %s: %w", r.Name, err)
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// openInflightDB opens the SQLite database and applies the embedded schema.
func openInflightDB(ctx context.Context, cfg config.PersistenceConfig) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Path,
		WALMode:     true,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// shutdown closes every session and waits, bounded, for their handlers to
// finish.
// logStatus logs a health line per session. Sessions that should be live
// but fail their health check are logged as warnings.
func logStatus(ctx context.Context, group *session.Group, log *logging.Logger) {
	log.Info("group status", "live", group.Live())
	for _, s := range group.Sessions() {
		checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := s.HealthCheck(checkCtx)
		cancel()

		state := s.State()
		attrs := []any{"session", s.Name(), "state", string(state), "backlog", s.Backlog()}
		if err != nil && state.Live() {
			log.Warn("session unhealthy", append(attrs, "error", err)...)
			continue
		}
		log.Info("session status", append(attrs, "healthy", err == nil)...)
	}
}

func shutdown(group *session.Group, log *logging.Logger) {
	group.Close()
	select {
	case <-group.Done():
	case <-time.After(shutdownTimeout):
		log.Warn("sessions did not finish before shutdown timeout", "states", group.States())
	}
}

// getConfigPath returns the configuration file path.
// Uses TELEMETRY_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TELEMETRY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
