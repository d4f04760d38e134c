package solanapay

import (
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// LamportsPerSOL is the native-unit conversion factor
const LamportsPerSOL = 1_000_000_000

// SOLDecimals is the number of fractional digits of the native unit
const SOLDecimals = 9

// DefaultMaxConfirmations is reported for finalized transactions unless
// overridden with WithMaxConfirmations
const DefaultMaxConfirmations uint64 = 32

var (
	// MemoProgramID is the SPL Memo program (v2)
	MemoProgramID = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")
	// MemoProgramV1ID is the legacy SPL Memo program
	MemoProgramV1ID = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")
)

// ExtractParams describes which transfers count as payments
type ExtractParams struct {
	// Recipient is the merchant's wallet address
	Recipient solana.PublicKey
	// TokenAccount is the recipient's associated token account; non-nil selects token mode
	TokenAccount *solana.PublicKey
	// MaxConfirmations is reported for finalized transactions
	MaxConfirmations uint64
	// IgnoreMemoInstructions drops SPL Memo instructions before the
	// single-instruction check. Reconciliation keeps it false.
	IgnoreMemoInstructions bool
}

// NewExtractParams builds the parameters for a merchant configuration.
// In token mode the recipient's associated token account is derived once here.
func NewExtractParams(config MerchantConfig, maxConfirmations uint64) (ExtractParams, error) {
	params := ExtractParams{
		Recipient:        config.Recipient,
		MaxConfirmations: maxConfirmations,
	}
	if config.IsTokenMode() {
		ata, _, err := solana.FindAssociatedTokenAddress(config.Recipient, *config.SPLToken)
		if err != nil {
			return params, fmt.Errorf("failed to derive token account for %s: %w", config.Recipient, err)
		}
		params.TokenAccount = &ata
	}
	return params, nil
}

// WatchedAccount is the account whose balance changes identify payments
func (p ExtractParams) WatchedAccount() solana.PublicKey {
	if p.TokenAccount != nil {
		return *p.TokenAccount
	}
	return p.Recipient
}

// ExtractTransfer applies the matching rule to one transaction and its
// status. It returns the record, or a non-empty RejectReason when the
// transaction is not a matching incoming payment. The function is pure:
// identical inputs always give identical outputs.
func ExtractTransfer(tx *Transaction, status *SignatureStatus, p ExtractParams) (TransferRecord, RejectReason) {
	if tx == nil || tx.Meta == nil {
		return TransferRecord{}, RejectMissingMeta
	}
	if tx.BlockTime == nil {
		return TransferRecord{}, RejectMissingTimestamp
	}
	if status == nil {
		return TransferRecord{}, RejectMissingStatus
	}

	instructions := tx.Instructions
	if p.IgnoreMemoInstructions {
		instructions = withoutMemo(instructions)
	}
	if len(instructions) != 1 {
		return TransferRecord{}, RejectInstructionCount
	}
	ix := instructions[0]

	var (
		amount decimal.Decimal
		reason RejectReason
	)
	if p.TokenAccount != nil {
		amount, reason = tokenDelta(tx, ix, *p.TokenAccount)
	} else {
		amount, reason = nativeDelta(tx, ix, p.Recipient)
	}
	if reason != RejectNone {
		return TransferRecord{}, reason
	}

	if amount.IsNegative() {
		return TransferRecord{}, RejectNegativeAmount
	}

	var confirmations uint64
	switch {
	case status.ConfirmationStatus == ConfirmationStatusFinalized:
		confirmations = p.MaxConfirmations
	case status.Confirmations != nil:
		confirmations = *status.Confirmations
	}

	return TransferRecord{
		Signature:          tx.Signature.String(),
		Amount:             amount.String(),
		Timestamp:          *tx.BlockTime,
		Error:              tx.Meta.Err,
		ConfirmationStatus: status.ConfirmationStatus,
		Confirmations:      confirmations,
	}, RejectNone
}

func nativeDelta(tx *Transaction, ix Instruction, recipient solana.PublicKey) (decimal.Decimal, RejectReason) {
	if ix.Kind != InstructionSystemTransfer {
		return decimal.Zero, RejectWrongInstruction
	}
	if !ix.Destination.Equals(recipient) {
		return decimal.Zero, RejectWrongDestination
	}
	if ix.Source.Equals(ix.Destination) {
		return decimal.Zero, RejectSelfTransfer
	}

	index := tx.AccountIndex(recipient)
	if index < 0 {
		return decimal.Zero, RejectAccountNotFound
	}
	if index >= len(tx.Meta.PreBalances) || index >= len(tx.Meta.PostBalances) {
		return decimal.Zero, RejectBalanceNotFound
	}

	pre := decimal.NewFromInt(int64(tx.Meta.PreBalances[index]))
	post := decimal.NewFromInt(int64(tx.Meta.PostBalances[index]))
	return post.Sub(pre).Shift(-SOLDecimals), RejectNone
}

func tokenDelta(tx *Transaction, ix Instruction, tokenAccount solana.PublicKey) (decimal.Decimal, RejectReason) {
	if ix.Kind != InstructionTokenTransfer && ix.Kind != InstructionTokenTransferChecked {
		return decimal.Zero, RejectWrongInstruction
	}
	if !ix.Destination.Equals(tokenAccount) {
		return decimal.Zero, RejectWrongDestination
	}
	if ix.Source.Equals(ix.Destination) {
		return decimal.Zero, RejectSelfTransfer
	}

	index := tx.AccountIndex(tokenAccount)
	if index < 0 {
		return decimal.Zero, RejectAccountNotFound
	}

	pre := findTokenBalance(tx.Meta.PreTokenBalances, uint16(index))
	post := findTokenBalance(tx.Meta.PostTokenBalances, uint16(index))
	if pre == nil || post == nil {
		return decimal.Zero, RejectBalanceNotFound
	}
	if pre.UIAmountString == "" || post.UIAmountString == "" {
		return decimal.Zero, RejectUndisplayableAmount
	}

	preAmount, err := decimal.NewFromString(pre.UIAmountString)
	if err != nil {
		return decimal.Zero, RejectUndisplayableAmount
	}
	postAmount, err := decimal.NewFromString(post.UIAmountString)
	if err != nil {
		return decimal.Zero, RejectUndisplayableAmount
	}
	return postAmount.Sub(preAmount), RejectNone
}

func findTokenBalance(balances []TokenBalance, accountIndex uint16) *TokenBalance {
	for i := range balances {
		if balances[i].AccountIndex == accountIndex {
			return &balances[i]
		}
	}
	return nil
}

func withoutMemo(instructions []Instruction) []Instruction {
	out := make([]Instruction, 0, len(instructions))
	for _, ix := range instructions {
		if ix.ProgramID.Equals(MemoProgramID) || ix.ProgramID.Equals(MemoProgramV1ID) {
			continue
		}
		out = append(out, ix)
	}
	return out
}
