// Package ledger provides an in-memory LedgerClient for tests.
package ledger

import (
	"context"
	"sync"

	solana "github.com/gagliardetto/solana-go"

	solanapay "github.com/coinbase/solanapay"
)

// Method names accepted by Fail and Calls
const (
	MethodFindReference         = "FindReference"
	MethodGetConfirmationStatus = "GetConfirmationStatus"
	MethodListSignatures        = "ListSignatures"
	MethodGetTransactions       = "GetTransactions"
	MethodGetSignatureStatuses  = "GetSignatureStatuses"
)

type failure struct {
	err       error
	remaining int
}

// Ledger is a programmable solanapay.LedgerClient. The zero value is not
// usable; create one with New.
type Ledger struct {
	mu           sync.Mutex
	references   map[solana.PublicKey]solanapay.SignatureInfo
	statuses     map[solana.Signature]solanapay.SignatureStatus
	transactions map[solana.Signature]*solanapay.Transaction
	history      map[solana.PublicKey][]solanapay.SignatureInfo
	failures     map[string]*failure
	calls        map[string]int
}

var _ solanapay.LedgerClient = (*Ledger)(nil)

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{
		references:   make(map[solana.PublicKey]solanapay.SignatureInfo),
		statuses:     make(map[solana.Signature]solanapay.SignatureStatus),
		transactions: make(map[solana.Signature]*solanapay.Transaction),
		history:      make(map[solana.PublicKey][]solanapay.SignatureInfo),
		failures:     make(map[string]*failure),
		calls:        make(map[string]int),
	}
}

// AddReference makes FindReference return sig for reference
func (l *Ledger) AddReference(reference solana.PublicKey, sig solana.Signature) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.references[reference] = solanapay.SignatureInfo{Signature: sig}
}

// SetStatus sets the status reported for sig
func (l *Ledger) SetStatus(sig solana.Signature, status solanapay.ConfirmationStatus, confirmations *uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses[sig] = solanapay.SignatureStatus{
		Confirmations:      confirmations,
		ConfirmationStatus: status,
	}
}

// AddTransaction stores tx under its signature
func (l *Ledger) AddTransaction(tx *solanapay.Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transactions[tx.Signature] = tx
}

// SetHistory sets the signature history of account, newest first
func (l *Ledger) SetHistory(account solana.PublicKey, sigs ...solana.Signature) {
	l.mu.Lock()
	defer l.mu.Unlock()

	infos := make([]solanapay.SignatureInfo, 0, len(sigs))
	for _, sig := range sigs {
		infos = append(infos, solanapay.SignatureInfo{
			Signature:          sig,
			ConfirmationStatus: solanapay.ConfirmationStatusConfirmed,
		})
	}
	l.history[account] = infos
}

// Fail makes the next n calls of method return err. A negative n fails
// until Recover is called.
func (l *Ledger) Fail(method string, n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[method] = &failure{err: err, remaining: n}
}

// Recover clears the failure set for method
func (l *Ledger) Recover(method string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, method)
}

// Calls returns how many times method was called
func (l *Ledger) Calls(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[method]
}

// enter records a call and returns the injected failure, if any.
// The caller must hold l.mu.
func (l *Ledger) enter(method string) error {
	l.calls[method]++

	f, ok := l.failures[method]
	if !ok {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
		if f.remaining == 0 {
			delete(l.failures, method)
		}
	}
	return f.err
}

// FindReference implements solanapay.LedgerClient
func (l *Ledger) FindReference(ctx context.Context, reference solana.PublicKey) (*solanapay.SignatureInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enter(MethodFindReference); err != nil {
		return nil, err
	}
	info, ok := l.references[reference]
	if !ok {
		return nil, &solanapay.ReferenceNotFoundError{Reference: reference.String()}
	}
	return &info, nil
}

// GetConfirmationStatus implements solanapay.LedgerClient
func (l *Ledger) GetConfirmationStatus(ctx context.Context, sig solana.Signature) (*solanapay.SignatureStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enter(MethodGetConfirmationStatus); err != nil {
		return nil, err
	}
	status, ok := l.statuses[sig]
	if !ok {
		return nil, nil
	}
	return &status, nil
}

// ListSignatures implements solanapay.LedgerClient
func (l *Ledger) ListSignatures(ctx context.Context, account solana.PublicKey, limit int, commitment solanapay.Commitment) ([]solanapay.SignatureInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enter(MethodListSignatures); err != nil {
		return nil, err
	}
	infos := l.history[account]
	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}
	out := make([]solanapay.SignatureInfo, len(infos))
	copy(out, infos)
	return out, nil
}

// GetTransactions implements solanapay.LedgerClient
func (l *Ledger) GetTransactions(ctx context.Context, sigs []solana.Signature) ([]*solanapay.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enter(MethodGetTransactions); err != nil {
		return nil, err
	}
	out := make([]*solanapay.Transaction, len(sigs))
	for i, sig := range sigs {
		out[i] = l.transactions[sig]
	}
	return out, nil
}

// GetSignatureStatuses implements solanapay.LedgerClient
func (l *Ledger) GetSignatureStatuses(ctx context.Context, sigs []solana.Signature, searchTransactionHistory bool) ([]*solanapay.SignatureStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enter(MethodGetSignatureStatuses); err != nil {
		return nil, err
	}
	out := make([]*solanapay.SignatureStatus, len(sigs))
	for i, sig := range sigs {
		if status, ok := l.statuses[sig]; ok {
			s := status
			out[i] = &s
		}
	}
	return out, nil
}
