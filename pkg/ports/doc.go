/*
Package ports defines the driven ports (interfaces) for the foundry synchronizer.

These interfaces decouple the session controller from the transport and fan-out
implementations, so the controller can be driven by the HTTP backend client in
production and by in-process fakes in tests.

# Key Interfaces

  - Backend: the remote drafting pipeline (start stream, approve, revise, status).
  - SnapshotSink: receives every canonical snapshot (e.g. Redis pub/sub).
  - DistributedLocker: serializes commands for one session across replicas.
*/
package ports
