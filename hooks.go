package solanapay

import (
	"context"
	"time"

	solana "github.com/gagliardetto/solana-go"
)

// ============================================================================
// Hook Context Types
// ============================================================================

// SessionStatusContext describes one PaymentSession transition
type SessionStatusContext struct {
	Ctx       context.Context
	SessionID string
	From      SessionStatus
	To        SessionStatus
	Reference *solana.PublicKey
	Signature *solana.Signature
	Amount    *string
	Timestamp time.Time
}

// RecordsPublishedContext describes one reconciler publish
type RecordsPublishedContext struct {
	Ctx     context.Context
	Account solana.PublicKey
	Records []TransferRecord
	// Added holds the records whose signature was absent from the previous publish
	Added     []TransferRecord
	Timestamp time.Time
}

// Loop names reported in PollResultContext
const (
	PollLoopSession      = "session"
	PollLoopSignatures   = "signatures"
	PollLoopTransactions = "transactions"
)

// PollResultContext reports the outcome of one outer poll
type PollResultContext struct {
	Loop      string
	Succeeded bool
	Duration  time.Duration
	// NextDelay is the wait before the loop polls again
	NextDelay time.Duration
}

// ============================================================================
// Hook Function Types
// ============================================================================

// SessionStatusHook is called after a session changes status.
// Any error returned will be logged but will not affect the session.
type SessionStatusHook func(SessionStatusContext) error

// RecordsPublishedHook is called after the reconciler publishes a new record list.
// Any error returned will be logged but will not affect the published list.
type RecordsPublishedHook func(RecordsPublishedContext) error

// PollHook observes poll outcomes; it must not block
type PollHook func(PollResultContext)
