package ledger

import (
	"time"

	solana "github.com/gagliardetto/solana-go"

	solanapay "github.com/coinbase/solanapay"
)

// BlockTime is the block time stamped on fixture transactions
var BlockTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Signature returns a deterministic signature derived from seed
func Signature(seed byte) solana.Signature {
	var sig solana.Signature
	for i := range sig {
		sig[i] = seed
	}
	return sig
}

// NewKey returns a random public key
func NewKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

// NativeTransfer builds a system transfer of lamports from source to
// destination. The destination balance moves from pre to post lamports.
func NativeTransfer(sig solana.Signature, source, destination solana.PublicKey, pre, post uint64) *solanapay.Transaction {
	bt := BlockTime
	var lamports uint64
	if post > pre {
		lamports = post - pre
	}
	return &solanapay.Transaction{
		Signature:   sig,
		Slot:        100,
		BlockTime:   &bt,
		AccountKeys: []solana.PublicKey{source, destination, solana.SystemProgramID},
		Instructions: []solanapay.Instruction{{
			ProgramID:   solana.SystemProgramID,
			Kind:        solanapay.InstructionSystemTransfer,
			Source:      source,
			Destination: destination,
			Amount:      lamports,
		}},
		Meta: &solanapay.TransactionMeta{
			Fee:          5000,
			PreBalances:  []uint64{50 * solanapay.LamportsPerSOL, pre, 1},
			PostBalances: []uint64{50*solanapay.LamportsPerSOL - lamports - 5000, post, 1},
		},
	}
}

// TokenTransferChecked builds a token transferChecked from source to the
// destination token account. The destination's UI balance moves from pre to post.
func TokenTransferChecked(sig solana.Signature, source, destination, mint solana.PublicKey, pre, post string) *solanapay.Transaction {
	bt := BlockTime
	m := mint
	return &solanapay.Transaction{
		Signature:   sig,
		Slot:        100,
		BlockTime:   &bt,
		AccountKeys: []solana.PublicKey{NewKey(), source, mint, destination, solana.TokenProgramID},
		Instructions: []solanapay.Instruction{{
			ProgramID:   solana.TokenProgramID,
			Kind:        solanapay.InstructionTokenTransferChecked,
			Source:      source,
			Destination: destination,
			Mint:        &m,
		}},
		Meta: &solanapay.TransactionMeta{
			Fee:          5000,
			PreBalances:  []uint64{1, 1, 1, 1, 1},
			PostBalances: []uint64{1, 1, 1, 1, 1},
			PreTokenBalances: []solanapay.TokenBalance{
				{AccountIndex: 1, Mint: mint, UIAmountString: "10"},
				{AccountIndex: 3, Mint: mint, UIAmountString: pre},
			},
			PostTokenBalances: []solanapay.TokenBalance{
				{AccountIndex: 1, Mint: mint, UIAmountString: "7"},
				{AccountIndex: 3, Mint: mint, UIAmountString: post},
			},
		},
	}
}
