package solanapay_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	solanapay "github.com/coinbase/solanapay"
	"github.com/coinbase/solanapay/test/mocks/ledger"
)

const (
	waitFor = 2 * time.Second
	tick    = time.Millisecond
)

func fastSleep(ctx context.Context, d time.Duration) error {
	return solanapay.ContextSleep(ctx, time.Millisecond)
}

func newTestSession(t *testing.T, l *ledger.Ledger, opts ...solanapay.SessionOption) *solanapay.PaymentSession {
	t.Helper()

	config := solanapay.MerchantConfig{
		Recipient: ledger.NewKey(),
		Label:     "Coffee Shop",
		Message:   "Thanks for your order",
	}
	opts = append([]solanapay.SessionOption{
		solanapay.WithPollInterval(time.Millisecond),
		solanapay.WithSessionSleep(fastSleep),
	}, opts...)

	session, err := solanapay.NewPaymentSession(l, config, opts...)
	require.NoError(t, err)
	t.Cleanup(session.Close)
	return session
}

func fixedReference(ref solana.PublicKey) solanapay.ReferenceGenerator {
	return func() (solana.PublicKey, error) {
		return ref, nil
	}
}

func TestPaymentSession_New(t *testing.T) {
	session := newTestSession(t, ledger.New())

	snap := session.Snapshot()
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, solanapay.SessionStatusNew, snap.Status)
	assert.Nil(t, snap.Amount)
	assert.Nil(t, snap.Memo)
	assert.Nil(t, snap.Reference)
	assert.Nil(t, session.Reference())
}

func TestPaymentSession_Generate(t *testing.T) {
	session := newTestSession(t, ledger.New())

	require.True(t, session.Generate(context.Background()))
	ref := session.Reference()
	require.NotNil(t, ref)
	assert.Equal(t, solanapay.SessionStatusPending, session.Status())

	// a second generate is a no-op and keeps the reference
	assert.False(t, session.Generate(context.Background()))
	assert.Equal(t, *ref, *session.Reference())
}

func TestPaymentSession_GenerateSurvivesCallerContext(t *testing.T) {
	l := ledger.New()
	ref := ledger.NewKey()
	sig := ledger.Signature(1)
	session := newTestSession(t, l, solanapay.WithReferenceGenerator(fixedReference(ref)))

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, session.Generate(ctx))
	cancel()

	l.AddReference(ref, sig)
	l.SetStatus(sig, solanapay.ConfirmationStatusConfirmed, nil)

	require.Eventually(t, func() bool {
		return session.Status() == solanapay.SessionStatusConfirmed
	}, waitFor, tick)
}

func TestPaymentSession_GenerateReferenceError(t *testing.T) {
	session := newTestSession(t, ledger.New(), solanapay.WithReferenceGenerator(func() (solana.PublicKey, error) {
		return solana.PublicKey{}, errors.New("entropy exhausted")
	}))

	assert.False(t, session.Generate(context.Background()))
	assert.Equal(t, solanapay.SessionStatusNew, session.Status())
	assert.Nil(t, session.Reference())
}

func TestPaymentSession_AmountAndMemo(t *testing.T) {
	session := newTestSession(t, ledger.New())

	amount := decimal.RequireFromString("1.5")
	memo := "order-42"
	require.NoError(t, session.SetAmount(&amount))
	require.NoError(t, session.SetMemo(&memo))

	snap := session.Snapshot()
	require.NotNil(t, snap.Amount)
	assert.True(t, amount.Equal(*snap.Amount))
	assert.Equal(t, memo, *snap.Memo)

	require.NoError(t, session.SetAmount(nil))
	assert.Nil(t, session.Snapshot().Amount)

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		zero := decimal.Zero
		err := session.SetAmount(&zero)

		var sessionErr *solanapay.SessionError
		require.ErrorAs(t, err, &sessionErr)
		assert.Equal(t, solanapay.ErrCodeInvalidAmount, sessionErr.Code)
	})

	t.Run("rejects invalid memo", func(t *testing.T) {
		bad := string([]byte{0xff, 0xfe})
		err := session.SetMemo(&bad)

		var sessionErr *solanapay.SessionError
		require.ErrorAs(t, err, &sessionErr)
		assert.Equal(t, solanapay.ErrCodeInvalidMemo, sessionErr.Code)
	})

	t.Run("frozen after generate", func(t *testing.T) {
		require.True(t, session.Generate(context.Background()))

		other := decimal.RequireFromString("3")
		err := session.SetAmount(&other)
		var sessionErr *solanapay.SessionError
		require.ErrorAs(t, err, &sessionErr)
		assert.Equal(t, solanapay.ErrCodeSessionNotEditable, sessionErr.Code)

		err = session.SetMemo(nil)
		require.ErrorAs(t, err, &sessionErr)
		assert.Equal(t, solanapay.ErrCodeSessionNotEditable, sessionErr.Code)
	})
}

func TestPaymentSession_UpdateIsAllOrNothing(t *testing.T) {
	session := newTestSession(t, ledger.New())

	amount := decimal.RequireFromString("2")
	memo := "order-7"
	require.NoError(t, session.Update(solanapay.SessionUpdate{
		SetAmount: true,
		Amount:    &amount,
		SetMemo:   true,
		Memo:      &memo,
	}))

	other := decimal.RequireFromString("9")
	bad := string([]byte{0xff})
	err := session.Update(solanapay.SessionUpdate{
		SetAmount: true,
		Amount:    &other,
		SetMemo:   true,
		Memo:      &bad,
	})
	var sessionErr *solanapay.SessionError
	require.ErrorAs(t, err, &sessionErr)
	assert.Equal(t, solanapay.ErrCodeInvalidMemo, sessionErr.Code)

	snap := session.Snapshot()
	require.NotNil(t, snap.Amount)
	assert.True(t, amount.Equal(*snap.Amount))
	assert.Equal(t, memo, *snap.Memo)

	// untouched fields survive a partial update
	require.NoError(t, session.Update(solanapay.SessionUpdate{SetMemo: true}))
	snap = session.Snapshot()
	assert.Nil(t, snap.Memo)
	require.NotNil(t, snap.Amount)
	assert.True(t, amount.Equal(*snap.Amount))
}

func TestPaymentSession_Reset(t *testing.T) {
	l := ledger.New()
	ref := ledger.NewKey()
	sig := ledger.Signature(2)

	tests := []struct {
		name    string
		prepare func(t *testing.T, s *solanapay.PaymentSession)
	}{
		{
			name:    "from new",
			prepare: func(t *testing.T, s *solanapay.PaymentSession) {},
		},
		{
			name: "from pending",
			prepare: func(t *testing.T, s *solanapay.PaymentSession) {
				require.True(t, s.Generate(context.Background()))
			},
		},
		{
			name: "from confirmed",
			prepare: func(t *testing.T, s *solanapay.PaymentSession) {
				l.AddReference(ref, sig)
				l.SetStatus(sig, solanapay.ConfirmationStatusFinalized, nil)
				require.True(t, s.Generate(context.Background()))
				require.Eventually(t, func() bool {
					return s.Status() == solanapay.SessionStatusConfirmed
				}, waitFor, tick)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newTestSession(t, l, solanapay.WithReferenceGenerator(fixedReference(ref)))

			amount := decimal.RequireFromString("2")
			memo := "table 4"
			require.NoError(t, session.SetAmount(&amount))
			require.NoError(t, session.SetMemo(&memo))
			tt.prepare(t, session)

			session.Reset()

			snap := session.Snapshot()
			assert.Equal(t, solanapay.SessionStatusNew, snap.Status)
			assert.Nil(t, snap.Amount)
			assert.Nil(t, snap.Memo)
			assert.Nil(t, snap.Reference)
			assert.Nil(t, snap.Signature)
		})
	}
}

func TestPaymentSession_ConfirmsOnlyAtConfirmedLevel(t *testing.T) {
	l := ledger.New()
	ref := ledger.NewKey()
	sig := ledger.Signature(3)
	session := newTestSession(t, l, solanapay.WithReferenceGenerator(fixedReference(ref)))

	l.AddReference(ref, sig)
	l.SetStatus(sig, solanapay.ConfirmationStatusProcessed, uint64Ptr(0))
	require.True(t, session.Generate(context.Background()))

	require.Eventually(t, func() bool {
		return l.Calls(ledger.MethodGetConfirmationStatus) >= 5
	}, waitFor, tick)
	assert.Equal(t, solanapay.SessionStatusPending, session.Status())

	l.SetStatus(sig, solanapay.ConfirmationStatusConfirmed, uint64Ptr(1))
	require.Eventually(t, func() bool {
		return session.Status() == solanapay.SessionStatusConfirmed
	}, waitFor, tick)

	snap := session.Snapshot()
	require.NotNil(t, snap.Signature)
	assert.Equal(t, sig.String(), *snap.Signature)
}

func TestPaymentSession_NotFoundIsSilent(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := ledger.New()
	session := newTestSession(t, l, solanapay.WithSessionLogger(zap.New(core)))

	require.True(t, session.Generate(context.Background()))
	require.Eventually(t, func() bool {
		return l.Calls(ledger.MethodFindReference) >= 5
	}, waitFor, tick)

	assert.Equal(t, solanapay.SessionStatusPending, session.Status())
	assert.Equal(t, 0, l.Calls(ledger.MethodGetConfirmationStatus))
	assert.Zero(t, logs.FilterMessage("failed to find reference").Len())
	assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len())
	assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestPaymentSession_TransientErrorsAreLoggedAndRetried(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	l := ledger.New()
	ref := ledger.NewKey()
	sig := ledger.Signature(4)
	session := newTestSession(t, l,
		solanapay.WithSessionLogger(zap.New(core)),
		solanapay.WithReferenceGenerator(fixedReference(ref)))

	l.Fail(ledger.MethodFindReference, 3, errors.New("429 too many requests"))
	l.AddReference(ref, sig)
	l.SetStatus(sig, solanapay.ConfirmationStatusConfirmed, uint64Ptr(2))
	require.True(t, session.Generate(context.Background()))

	require.Eventually(t, func() bool {
		return session.Status() == solanapay.SessionStatusConfirmed
	}, waitFor, tick)
	assert.Equal(t, 3, logs.FilterMessage("failed to find reference").Len())
}

func TestPaymentSession_ResetDiscardsInFlightWatch(t *testing.T) {
	l := ledger.New()
	ref := ledger.NewKey()
	sig := ledger.Signature(5)
	session := newTestSession(t, l, solanapay.WithReferenceGenerator(fixedReference(ref)))

	require.True(t, session.Generate(context.Background()))
	session.Reset()

	// the old reference lands after the reset
	l.AddReference(ref, sig)
	l.SetStatus(sig, solanapay.ConfirmationStatusFinalized, nil)
	time.Sleep(20 * time.Millisecond)

	snap := session.Snapshot()
	assert.Equal(t, solanapay.SessionStatusNew, snap.Status)
	assert.Nil(t, snap.Reference)
	assert.Nil(t, snap.Signature)
}

func TestPaymentSession_StatusHooks(t *testing.T) {
	l := ledger.New()
	ref := ledger.NewKey()
	sig := ledger.Signature(6)

	var (
		mu          sync.Mutex
		transitions []solanapay.SessionStatusContext
	)
	hook := func(ctx solanapay.SessionStatusContext) error {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, ctx)
		return nil
	}
	session := newTestSession(t, l,
		solanapay.WithReferenceGenerator(fixedReference(ref)),
		solanapay.WithSessionStatusHook(hook))

	l.AddReference(ref, sig)
	l.SetStatus(sig, solanapay.ConfirmationStatusConfirmed, nil)
	require.True(t, session.Generate(context.Background()))
	require.Eventually(t, func() bool {
		return session.Status() == solanapay.SessionStatusConfirmed
	}, waitFor, tick)
	session.Reset()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, transitions, 3)
	assert.Equal(t, solanapay.SessionStatusPending, transitions[0].To)
	assert.Equal(t, solanapay.SessionStatusConfirmed, transitions[1].To)
	require.NotNil(t, transitions[1].Signature)
	assert.Equal(t, sig, *transitions[1].Signature)
	assert.Equal(t, session.ID(), transitions[1].SessionID)
	assert.Equal(t, solanapay.SessionStatusNew, transitions[2].To)
}

func TestPaymentSession_TransferValidation(t *testing.T) {
	l := ledger.New()
	ref := ledger.NewKey()
	recipient := ledger.NewKey()
	config := solanapay.MerchantConfig{Recipient: recipient}

	session, err := solanapay.NewPaymentSession(l, config,
		solanapay.WithPollInterval(time.Millisecond),
		solanapay.WithSessionSleep(fastSleep),
		solanapay.WithReferenceGenerator(fixedReference(ref)),
		solanapay.WithTransferValidation())
	require.NoError(t, err)
	t.Cleanup(session.Close)

	amount := decimal.RequireFromString("2")
	require.NoError(t, session.SetAmount(&amount))
	require.True(t, session.Generate(context.Background()))

	// underpaid: 1 SOL for a 2 SOL session
	short := ledger.Signature(7)
	l.AddTransaction(ledger.NativeTransfer(short, ledger.NewKey(), recipient, 0, solanapay.LamportsPerSOL))
	l.AddReference(ref, short)
	l.SetStatus(short, solanapay.ConfirmationStatusFinalized, nil)

	require.Eventually(t, func() bool {
		return l.Calls(ledger.MethodGetTransactions) >= 3
	}, waitFor, tick)
	assert.Equal(t, solanapay.SessionStatusPending, session.Status())

	full := ledger.Signature(8)
	tx := ledger.NativeTransfer(full, ledger.NewKey(), recipient, 0, 2*solanapay.LamportsPerSOL)
	tx.Instructions = append([]solanapay.Instruction{{ProgramID: solanapay.MemoProgramID}}, tx.Instructions...)
	l.AddTransaction(tx)
	l.AddReference(ref, full)
	l.SetStatus(full, solanapay.ConfirmationStatusConfirmed, nil)

	require.Eventually(t, func() bool {
		return session.Status() == solanapay.SessionStatusConfirmed
	}, waitFor, tick)
	assert.Equal(t, full.String(), *session.Snapshot().Signature)
}

func TestPaymentSession_PaymentRequest(t *testing.T) {
	mint := ledger.NewKey()
	recipient := ledger.NewKey()
	ref := ledger.NewKey()
	config := solanapay.MerchantConfig{
		Recipient: recipient,
		SPLToken:  &mint,
		Label:     "Coffee Shop",
		Message:   "Thanks",
	}

	session, err := solanapay.NewPaymentSession(ledger.New(), config,
		solanapay.WithReferenceGenerator(fixedReference(ref)))
	require.NoError(t, err)
	t.Cleanup(session.Close)

	amount := decimal.RequireFromString("4.20")
	memo := "order 7"
	require.NoError(t, session.SetAmount(&amount))
	require.NoError(t, session.SetMemo(&memo))

	before := session.PaymentRequest()
	assert.Empty(t, before.References)

	require.True(t, session.Generate(context.Background()))
	req := session.PaymentRequest()
	assert.Equal(t, recipient, req.Recipient)
	require.NotNil(t, req.SPLToken)
	assert.Equal(t, mint, *req.SPLToken)
	assert.Equal(t, []solana.PublicKey{ref}, req.References)
	assert.Equal(t, "order 7", req.Memo)
	assert.Equal(t, req.URL(), session.PaymentRequest().URL())
}
