// Package runtime implements the state merge engine.
//
// Every function here is pure: it takes a SessionState by value and returns the next one.
// The session controller is the only caller and applies them sequentially.
package runtime
