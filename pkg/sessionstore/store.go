// Package sessionstore keeps PaymentSessions addressable by ID for the HTTP API.
//
// Confirmed sessions are kept for a TTL so clients can still read the
// outcome, then dropped lazily on the next store access. Pending and New
// sessions never expire; they are removed with Delete.
package sessionstore

import (
	solanapay "github.com/coinbase/solanapay"
)

// Store holds sessions keyed by PaymentSession.ID.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put adds or replaces a session
	Put(session *solanapay.PaymentSession)

	// Get returns the session, or false if it is unknown or expired
	Get(id string) (*solanapay.PaymentSession, bool)

	// Delete stops the session's watcher and removes it. It reports whether
	// the session existed.
	Delete(id string) bool

	// Len returns the number of live sessions
	Len() int

	// StatusHook must be registered on every stored session. It starts the
	// TTL when a session confirms and clears it when the session is reset.
	StatusHook() solanapay.SessionStatusHook

	// Close stops every session's watcher and empties the store
	Close()
}
