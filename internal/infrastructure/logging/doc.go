// Package logging provides structured logging for Ember Core.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("plan executed", "correlation_id", id, "actions", n)
//	logger.Error("refresh failed", "error", err)
//
// # Security
//
// Never log the platform access token, MQTT credentials, or InfluxDB
// token. Log key prefixes at most.
package logging
