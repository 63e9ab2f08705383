// Package logger builds the process-wide slog logger: text output for local
// runs, JSON in production.
package logger
