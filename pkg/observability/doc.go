/*
Package observability provides prometheus instrumentation for the session controller.

Metrics attaches to a Controller through domain.LifecycleHooks and exposes
records merged, malformed frames, status transitions and command latency.
*/
package observability
