// Package config handles loading and validating telemetry edge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling, including per-session overrides
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment
//     variables (TELEMETRY_MQTT_PASSWORD, TELEMETRY_INFLUXDB_TOKEN)
//   - The config file should have restricted permissions (0600)
//   - Plaintext broker connections are rejected unless allow_plaintext is set
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, s := range cfg.Sessions {
//	    fmt.Println(cfg.Resolved(s).Topic)
//	}
package config
