/*
Package session implements the session controller.

The Controller owns the single canonical SessionState. It runs the start stream
in the background, gates approve/revise on the review status, serializes every
mutation through one writer and fans snapshots out to hooks, sinks and
subscribers in mutation order.
*/
package session
