package svm

import (
	"encoding/binary"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	solanapay "github.com/coinbase/solanapay"
)

// DecodeTransaction converts a fetched transaction and its metadata into a
// solanapay.Transaction. Account keys are the static keys followed by the
// writable and read-only addresses loaded from lookup tables, matching the
// indexes used by the balance arrays.
func DecodeTransaction(
	sig solana.Signature,
	slot uint64,
	blockTime *solana.UnixTimeSeconds,
	tx *solana.Transaction,
	meta *rpc.TransactionMeta,
) (*solanapay.Transaction, error) {
	if tx == nil {
		return nil, fmt.Errorf("%s: %s: empty transaction", ErrTransactionUndecoded, sig)
	}

	keys := make([]solana.PublicKey, 0, len(tx.Message.AccountKeys))
	keys = append(keys, tx.Message.AccountKeys...)
	if meta != nil {
		keys = append(keys, meta.LoadedAddresses.Writable...)
		keys = append(keys, meta.LoadedAddresses.ReadOnly...)
	}

	out := &solanapay.Transaction{
		Signature:   sig,
		Slot:        slot,
		AccountKeys: keys,
	}
	if blockTime != nil {
		t := blockTime.Time().UTC()
		out.BlockTime = &t
	}

	out.Instructions = make([]solanapay.Instruction, 0, len(tx.Message.Instructions))
	for i, compiled := range tx.Message.Instructions {
		ix, err := DecodeInstruction(keys, compiled)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: instruction %d: %w", ErrTransactionUndecoded, sig, i, err)
		}
		out.Instructions = append(out.Instructions, ix)
	}

	if meta != nil {
		out.Meta = &solanapay.TransactionMeta{
			Err:               meta.Err,
			Fee:               meta.Fee,
			PreBalances:       meta.PreBalances,
			PostBalances:      meta.PostBalances,
			PreTokenBalances:  convertTokenBalances(meta.PreTokenBalances),
			PostTokenBalances: convertTokenBalances(meta.PostTokenBalances),
		}
	}

	return out, nil
}

// DecodeInstruction classifies one compiled top-level instruction.
// Instructions other than system transfers and token transfers decode to
// solanapay.InstructionUnknown without error.
func DecodeInstruction(keys []solana.PublicKey, compiled solana.CompiledInstruction) (solanapay.Instruction, error) {
	if int(compiled.ProgramIDIndex) >= len(keys) {
		return solanapay.Instruction{}, fmt.Errorf("%s: program index %d", ErrInvalidInstructionIdx, compiled.ProgramIDIndex)
	}

	accounts := make([]solana.PublicKey, len(compiled.Accounts))
	for i, idx := range compiled.Accounts {
		if int(idx) >= len(keys) {
			return solanapay.Instruction{}, fmt.Errorf("%s: account index %d", ErrInvalidInstructionIdx, idx)
		}
		accounts[i] = keys[idx]
	}

	out := solanapay.Instruction{ProgramID: keys[compiled.ProgramIDIndex]}
	switch {
	case out.ProgramID.Equals(solana.SystemProgramID):
		decodeSystemTransfer(&out, accounts, compiled.Data)
	case IsTokenProgram(out.ProgramID):
		decodeTokenTransfer(&out, accounts, compiled.Data)
	}
	return out, nil
}

func decodeSystemTransfer(out *solanapay.Instruction, accounts []solana.PublicKey, data []byte) {
	// accounts: [funding, recipient]
	if len(accounts) < 2 || len(data) < 4 {
		return
	}
	if binary.LittleEndian.Uint32(data[:4]) != system.Instruction_Transfer {
		return
	}

	inst, err := system.DecodeInstruction(accountMetas(accounts), data)
	if err != nil {
		return
	}
	transfer, ok := inst.Impl.(*system.Transfer)
	if !ok || transfer.Lamports == nil {
		return
	}

	out.Kind = solanapay.InstructionSystemTransfer
	out.Source = accounts[0]
	out.Destination = accounts[1]
	out.Amount = *transfer.Lamports
}

func decodeTokenTransfer(out *solanapay.Instruction, accounts []solana.PublicKey, data []byte) {
	if len(data) == 0 {
		return
	}
	switch data[0] {
	case token.Instruction_Transfer:
		// accounts: [source, destination, owner, signers...]
		if len(accounts) < 3 {
			return
		}
	case token.Instruction_TransferChecked:
		// accounts: [source, mint, destination, owner, signers...]
		if len(accounts) < 4 {
			return
		}
	default:
		return
	}

	inst, err := token.DecodeInstruction(accountMetas(accounts), data)
	if err != nil {
		return
	}

	switch impl := inst.Impl.(type) {
	case *token.Transfer:
		if impl.Amount == nil {
			return
		}
		out.Kind = solanapay.InstructionTokenTransfer
		out.Source = accounts[0]
		out.Destination = accounts[1]
		out.Amount = *impl.Amount
	case *token.TransferChecked:
		if impl.Amount == nil {
			return
		}
		mint := accounts[1]
		out.Kind = solanapay.InstructionTokenTransferChecked
		out.Source = accounts[0]
		out.Mint = &mint
		out.Destination = accounts[2]
		out.Amount = *impl.Amount
	}
}

func accountMetas(keys []solana.PublicKey) []*solana.AccountMeta {
	metas := make([]*solana.AccountMeta, len(keys))
	for i, key := range keys {
		metas[i] = solana.Meta(key)
	}
	return metas
}

func convertTokenBalances(balances []rpc.TokenBalance) []solanapay.TokenBalance {
	if balances == nil {
		return nil
	}
	out := make([]solanapay.TokenBalance, 0, len(balances))
	for _, b := range balances {
		tb := solanapay.TokenBalance{
			AccountIndex: b.AccountIndex,
			Mint:         b.Mint,
			Owner:        b.Owner,
		}
		if b.UiTokenAmount != nil {
			tb.UIAmountString = b.UiTokenAmount.UiAmountString
		}
		out = append(out, tb)
	}
	return out
}
