package solanapay

import (
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// SessionStatus is the lifecycle state of a PaymentSession
type SessionStatus string

const (
	// SessionStatusNew means no reference has been issued yet; amount and memo are editable.
	SessionStatusNew SessionStatus = "new"
	// SessionStatusPending means a reference was issued and the ledger is being watched.
	SessionStatusPending SessionStatus = "pending"
	// SessionStatusConfirmed means a transaction carrying the reference reached
	// the confirmed or finalized commitment level.
	SessionStatusConfirmed SessionStatus = "confirmed"
)

// ConfirmationStatus is the ledger's tiered commitment indicator for a transaction
type ConfirmationStatus string

const (
	ConfirmationStatusProcessed ConfirmationStatus = "processed"
	ConfirmationStatusConfirmed ConfirmationStatus = "confirmed"
	ConfirmationStatusFinalized ConfirmationStatus = "finalized"
)

// IsAtLeastConfirmed reports whether the status is confirmed or finalized.
// Numeric confirmation depth is deliberately ignored.
func (s ConfirmationStatus) IsAtLeastConfirmed() bool {
	return s == ConfirmationStatusConfirmed || s == ConfirmationStatusFinalized
}

// Commitment is the commitment level requested from the ledger for reads
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// MerchantConfig is the read-only merchant configuration shared by sessions
// and reconcilers. A non-nil SPLToken selects token mode over native mode.
type MerchantConfig struct {
	Recipient solana.PublicKey
	SPLToken  *solana.PublicKey
	Label     string
	Message   string
}

// IsTokenMode reports whether payments are expected in an SPL token
func (c MerchantConfig) IsTokenMode() bool {
	return c.SPLToken != nil && !c.SPLToken.IsZero()
}

// TransferRecord is a reconciled incoming transfer to the watched account.
// Records are immutable; the reconciler publishes whole new lists.
type TransferRecord struct {
	Signature          string             `json:"signature"`
	Amount             string             `json:"amount"`
	Timestamp          time.Time          `json:"timestamp"`
	Error              interface{}        `json:"error,omitempty"`
	ConfirmationStatus ConfirmationStatus `json:"confirmationStatus"`
	Confirmations      uint64             `json:"confirmations"`
}

// SessionSnapshot is a consistent copy of a PaymentSession's fields
type SessionSnapshot struct {
	ID        string           `json:"id"`
	Status    SessionStatus    `json:"status"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Memo      *string          `json:"memo,omitempty"`
	Reference *string          `json:"reference,omitempty"`
	Signature *string          `json:"signature,omitempty"`
}

// ============================================================================
// Ledger data (LedgerClient results)
// ============================================================================

// SignatureInfo is one entry of an address's signature history
type SignatureInfo struct {
	Signature          solana.Signature
	Slot               uint64
	BlockTime          *time.Time
	Err                interface{}
	Memo               *string
	ConfirmationStatus ConfirmationStatus
}

// SignatureStatus is the ledger's current view of one signature
type SignatureStatus struct {
	Slot               uint64
	Confirmations      *uint64
	Err                interface{}
	ConfirmationStatus ConfirmationStatus
}

// InstructionKind classifies a decoded top-level instruction
type InstructionKind int

const (
	InstructionUnknown InstructionKind = iota
	InstructionSystemTransfer
	InstructionTokenTransfer
	InstructionTokenTransferChecked
)

func (k InstructionKind) String() string {
	switch k {
	case InstructionSystemTransfer:
		return "systemTransfer"
	case InstructionTokenTransfer:
		return "transfer"
	case InstructionTokenTransferChecked:
		return "transferChecked"
	default:
		return "unknown"
	}
}

// Instruction is a decoded top-level instruction. Source and Destination are
// only meaningful for the transfer kinds.
type Instruction struct {
	ProgramID   solana.PublicKey
	Kind        InstructionKind
	Source      solana.PublicKey
	Destination solana.PublicKey
	Mint        *solana.PublicKey
	Amount      uint64
}

// TokenBalance is a pre- or post-transaction token balance entry
type TokenBalance struct {
	AccountIndex   uint16
	Mint           solana.PublicKey
	Owner          *solana.PublicKey
	UIAmountString string
}

// TransactionMeta is the execution metadata of a transaction
type TransactionMeta struct {
	Err               interface{}
	Fee               uint64
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// Transaction is a transaction decoded into the fields the reconciler needs
type Transaction struct {
	Signature    solana.Signature
	Slot         uint64
	BlockTime    *time.Time
	AccountKeys  []solana.PublicKey
	Instructions []Instruction
	Meta         *TransactionMeta
}

// AccountIndex returns the index of key in the transaction's account keys, or -1
func (t *Transaction) AccountIndex(key solana.PublicKey) int {
	for i, k := range t.AccountKeys {
		if k.Equals(key) {
			return i
		}
	}
	return -1
}
