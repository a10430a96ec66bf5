/*
Package log provides structured logging for vriftd and its client
library using zerolog.

Component loggers are created with WithComponent, tagging every entry
with a "component" field ("daemon", "server", "watchdog", "ingest",
"client", ...) so a single daemon process's log stream can be filtered
by subsystem. WithPath and WithGeneration attach a virtual_path or
generation field for lookup/commit tracing.

# Configuration

Call Init once at startup with a Config naming the minimum level and
whether to emit JSON (for log aggregation) or a human-readable console
writer (for interactive use, e.g. `vriftd --log-json=false`).

# Conventions

Errors are attached with .Err(err) rather than interpolated into the
message string, so structured consumers can filter on error presence
without parsing text. Messages describe what happened, not why; the
why belongs in a comment at the call site if it isn't obvious.
*/
package log
