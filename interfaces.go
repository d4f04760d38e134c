package solanapay

import (
	"context"

	solana "github.com/gagliardetto/solana-go"
)

// LedgerClient is the read-only view of the ledger consumed by sessions and
// reconcilers. mechanisms/svm.Client implements it over Solana JSON-RPC.
//
// Implementations must be safe for concurrent use: a session watcher and both
// reconciler stages may call it at the same time.
type LedgerClient interface {
	// FindReference returns the oldest transaction that includes reference as
	// an account key. While none exists it returns an error matching
	// ErrReferenceNotFound.
	FindReference(ctx context.Context, reference solana.PublicKey) (*SignatureInfo, error)

	// GetConfirmationStatus returns the current status of a single signature.
	// A nil status with a nil error means the ledger does not know the signature yet.
	GetConfirmationStatus(ctx context.Context, signature solana.Signature) (*SignatureStatus, error)

	// ListSignatures returns the most recent signatures for account, newest first.
	ListSignatures(ctx context.Context, account solana.PublicKey, limit int, commitment Commitment) ([]SignatureInfo, error)

	// GetTransactions fetches and decodes transactions. The result has the
	// same order and length as signatures; unknown signatures are nil.
	GetTransactions(ctx context.Context, signatures []solana.Signature) ([]*Transaction, error)

	// GetSignatureStatuses returns statuses with the same order and length as
	// signatures; unknown signatures are nil.
	GetSignatureStatuses(ctx context.Context, signatures []solana.Signature, searchTransactionHistory bool) ([]*SignatureStatus, error)
}

// ReferenceGenerator mints one-time reference keys for payment sessions
type ReferenceGenerator func() (solana.PublicKey, error)

// NewRandomReference mints a reference from a fresh ed25519 keypair
func NewRandomReference() (solana.PublicKey, error) {
	return solana.NewWallet().PublicKey(), nil
}
