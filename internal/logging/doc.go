// Package logging assembles structured slog loggers and attribute helpers used
// across the image cache.
//
// Components derive their logger with [NewComponentLogger] so every line
// carries a component attribute. Failures that the cache swallows (disk
// writes, snapshot reads) are reported through [ErrorWithContext], which
// guarantees an event_type and error_hint on every error line.
package logging
