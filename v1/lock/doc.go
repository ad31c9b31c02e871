// Package lock implements the chain lock registry: an advisory, non-blocking
// gate that keeps a wallet from running two operations against the same chain
// on the same network at once.
//
// A key is held between a successful TryAcquire and the matching Release.
// TryAcquire never waits. Release clears the key and broadcasts a one-shot
// event on a syncbus Bus so that interested callers can retry. There is no
// queue, no fairness and no expiry: a key that is never released stays held
// until the process (or the shared table) is reset.
package lock
