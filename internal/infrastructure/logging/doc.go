// Package logging provides structured logging for the telemetry edge.
//
// This package wraps Go's standard log/slog package so that every session,
// the dispatcher, and the paho client itself log through one handler.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Bridging of paho's package-level loggers into slog
//
// # Configuration
//
//	logging:
//	  level: "info"       # debug, info, warn, error
//	  format: "json"      # json, text
//	  output: "stdout"    # stdout, stderr
//	  paho_debug: false   # forward paho DEBUG lines
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logging.InstallPahoLoggers(logger, cfg.Logging.PahoDebug)
//	logger.Info("session connected", "session", "sediment")
//
// # Security
//
// Never log broker passwords or InfluxDB tokens. mqtt.Credentials implements
// slog.LogValuer and renders its secret as a fixed mask; as a backstop the
// handler masks any attribute keyed password, token or secret.
package logging
