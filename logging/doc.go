// Package logging provides a small abstraction over slog so the stream
// consumer can depend on a minimal interface (Logger) while callers plug in
// any structured logger. StreamLogger adds run/component scoping and helpers
// for the events the consumer loop reports: parse failures, protocol
// violations, transport errors and run summaries.
package logging
