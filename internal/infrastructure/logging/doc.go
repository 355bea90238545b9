// Package logging provides the structured logger shared by the daemon and
// its tools: slog with level filtering, text or JSON output, default
// service fields, and optional syslog routing for the privileged daemon
// case where stderr is not collected.
package logging
