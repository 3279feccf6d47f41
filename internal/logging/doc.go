// Package logging wraps log/slog with the handler construction, attribute
// helpers, and context field propagation used across threadmap processes.
package logging
