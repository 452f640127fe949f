// Package database provides the SQLite layer behind persistent MQTT sessions.
//
// This package manages:
//   - The shared database connection (WAL mode, busy timeout, single writer)
//   - Schema migrations loaded from an fs.FS (see the migrations package)
//   - InflightStore, a paho Store that keeps unacknowledged QoS 1/2 packets
//     for sessions configured with clean_session: false
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//   - Only packets are stored; broker credentials never reach the database
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Persistence.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
//	store := database.NewInflightStore(db, "sandfang_client", logger)
package database
