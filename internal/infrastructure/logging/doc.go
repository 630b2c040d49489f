// Package logging provides structured logging for the broker sync service.
//
// It wraps log/slog so every entry carries the service name and version.
// JSON output is the default; text output is available for development.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("brokersync").Info("sync completed", "reloaded", true)
//
// Plaintext MQTT passwords and password digests must never be logged.
package logging
