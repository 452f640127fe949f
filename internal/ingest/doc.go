// Package ingest is the downstream consumer of subscriber session events.
//
// A Handler is created per session. It logs every reading with its session,
// topic, payload and duplicate flag, forwards readings to an optional Sink
// (the InfluxDB writer in production), and reports connection loss and
// delivery acknowledgements the same way for every session.
//
// Duplicates are forwarded rather than filtered: under at-least-once
// delivery the consumer is expected to tolerate them.
//
// Usage:
//
//	h := ingest.NewHandler("sediment", influxClient, logger)
//	s, err := builder.Build(cfg, h)
package ingest
