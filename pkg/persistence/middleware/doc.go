// Package middleware wraps snapshot sinks, e.g. to redact patient identifiers
// before snapshots are fanned out to other processes.
package middleware
