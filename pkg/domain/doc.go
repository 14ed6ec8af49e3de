/*
Package domain contains the core models of the protocol foundry synchronizer.

It defines the canonical session view of a remote human-in-the-loop drafting
pipeline. This package is kept pure and free of external dependencies like I/O,
following Hexagonal Architecture principles.

# Key Entities

  - SessionState: the single canonical view (status, draft, critique, event log, review buffer).
  - Status: the pipeline FSM (IDLE → RUNNING → AWAITING_HUMAN_REVIEW ⇄ RUNNING → COMPLETED, FAILED from anywhere).
  - ReviewBuffer: the human-edited draft that shadows the canonical draft during review.
  - SessionDiff: a partial update for presentation clients.
*/
package domain
