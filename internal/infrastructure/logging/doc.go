// Package logging provides structured logging for deskpilot.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the application.
//
// # Features
//
//   - JSON output for unattended runs (machine-parsable)
//   - Text output for interactive use (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Redaction of password, token, secret and text attributes
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//	  redact: [username] # extra keys to mask
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("sequence started", "actions", 4)
//	logger.Error("capture failed", "error", err)
//
// Log typed text under the "text" key so it is masked: sequences routinely
// carry credentials.
package logging
