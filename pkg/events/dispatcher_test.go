package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func newTestDispatcher(t *testing.T, pub Publisher, opts ...DispatcherOption) *Dispatcher {
	t.Helper()
	opts = append([]DispatcherOption{
		WithDispatcherSleep(fastSleep),
		WithRetryPolicy(solanapay.BackoffPolicy{
			BaseDelay:   time.Millisecond,
			MaxDelay:    4 * time.Millisecond,
			MaxAttempts: 2,
		}),
	}, opts...)
	d := NewDispatcher(pub, opts...)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func waitForEvents(t *testing.T, pub *recordingPublisher, n int) []Event {
	t.Helper()
	var events []Event
	require.Eventually(t, func() bool {
		events = pub.delivered()
		return len(events) >= n
	}, waitFor, tick)
	return events
}

func recordsContext(account solana.PublicKey, sigs ...string) solanapay.RecordsPublishedContext {
	records := make([]solanapay.TransferRecord, 0, len(sigs))
	for _, sig := range sigs {
		records = append(records, solanapay.TransferRecord{Signature: sig, Amount: "1"})
	}
	return solanapay.RecordsPublishedContext{
		Ctx:       context.Background(),
		Account:   account,
		Records:   records,
		Timestamp: time.Now(),
	}
}

func TestDispatcher_SessionConfirmed(t *testing.T) {
	pub := &recordingPublisher{}
	d := newTestDispatcher(t, pub)
	hook := d.SessionStatusHook()

	ctx := confirmedContext()
	pending := ctx
	pending.To = solanapay.SessionStatusPending
	require.NoError(t, hook(pending))
	require.NoError(t, hook(ctx))

	event := waitForEvents(t, pub, 1)[0]
	assert.Equal(t, TypeSessionConfirmed, event.Type)
	assert.Equal(t, "session-1", event.Subject)
	assert.NotEmpty(t, event.ID)

	var data SessionConfirmedData
	require.NoError(t, json.Unmarshal(event.Data, &data))
	assert.Equal(t, ctx.Reference.String(), data.Reference)
	assert.Equal(t, ctx.Signature.String(), data.Signature)
	assert.Equal(t, "1.5", *data.Amount)

	require.Eventually(t, func() bool { return d.Len() == 0 }, waitFor, tick)
	assert.Len(t, pub.delivered(), 1)
}

func TestDispatcher_RetriesUntilDelivered(t *testing.T) {
	// more failures than one scheduler run allows
	pub := &recordingPublisher{failures: 5}
	d := newTestDispatcher(t, pub)

	require.NoError(t, d.SessionStatusHook()(confirmedContext()))

	events := waitForEvents(t, pub, 1)
	assert.Equal(t, TypeSessionConfirmed, events[0].Type)
	assert.Equal(t, 6, pub.callCount())
	assert.Equal(t, 0, d.Len())
}

func TestDispatcher_TransferObservedOncePerSignature(t *testing.T) {
	pub := &recordingPublisher{}
	d := newTestDispatcher(t, pub)
	hook := d.RecordsPublishedHook()
	account := solana.NewWallet().PublicKey()

	require.NoError(t, hook(recordsContext(account, "sig-a", "sig-b")))
	events := waitForEvents(t, pub, 2)
	assert.Equal(t, "sig-a", events[0].Subject)
	assert.Equal(t, "sig-b", events[1].Subject)

	var data TransferObservedData
	require.NoError(t, json.Unmarshal(events[0].Data, &data))
	assert.Equal(t, account.String(), data.Account)
	assert.Equal(t, "1", data.Record.Amount)

	// republishing the same list delivers only the new signature
	require.NoError(t, hook(recordsContext(account, "sig-c", "sig-a", "sig-b")))
	events = waitForEvents(t, pub, 3)
	require.Eventually(t, func() bool { return d.Len() == 0 }, waitFor, tick)
	assert.Len(t, pub.delivered(), 3)
	assert.Equal(t, "sig-c", events[2].Subject)
}

func TestDispatcher_FailedTransferIsNotLost(t *testing.T) {
	pub := &recordingPublisher{failures: 1}
	d := newTestDispatcher(t, pub)
	hook := d.RecordsPublishedHook()
	account := solana.NewWallet().PublicKey()

	// offered again while the first attempt is still being retried
	require.NoError(t, hook(recordsContext(account, "sig-a")))
	require.NoError(t, hook(recordsContext(account, "sig-a")))

	events := waitForEvents(t, pub, 1)
	assert.Equal(t, "sig-a", events[0].Subject)
	require.Eventually(t, func() bool { return d.Len() == 0 }, waitFor, tick)
	assert.Len(t, pub.delivered(), 1)
}

func TestDispatcher_HooksDoNotBlockOnBackend(t *testing.T) {
	pub := &recordingPublisher{block: make(chan struct{})}
	d := NewDispatcher(pub, WithDrainTimeout(10*time.Millisecond))

	returned := make(chan struct{})
	go func() {
		defer close(returned)
		_ = d.SessionStatusHook()(confirmedContext())
		_ = d.RecordsPublishedHook()(recordsContext(solana.NewWallet().PublicKey(), "sig-a"))
	}()
	select {
	case <-returned:
	case <-time.After(waitFor):
		t.Fatal("hooks blocked on the publisher")
	}
	assert.Equal(t, 2, d.Len())

	require.NoError(t, d.Close())
	assert.Empty(t, pub.delivered())
	assert.NoError(t, d.Close())
}

func TestDispatcher_CloseDrainsQueue(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDispatcher(pub, WithDispatcherSleep(fastSleep))

	for i := 0; i < 3; i++ {
		require.NoError(t, d.SessionStatusHook()(confirmedContext()))
	}
	require.NoError(t, d.Close())
	assert.Len(t, pub.delivered(), 3)
	assert.Equal(t, 0, d.Len())
}

func TestDispatcher_ReconcilerDeliversAfterBrokerError(t *testing.T) {
	l := ledger.New()
	recipient := ledger.NewKey()
	sig := ledger.Signature(1)
	l.AddTransaction(ledger.NativeTransfer(sig, ledger.NewKey(), recipient, 0, solanapay.LamportsPerSOL))
	l.SetStatus(sig, solanapay.ConfirmationStatusConfirmed, nil)
	l.SetHistory(recipient, sig)

	pub := &recordingPublisher{failures: 1}
	d := newTestDispatcher(t, pub)

	r, err := solanapay.NewReconciler(l, solanapay.MerchantConfig{Recipient: recipient},
		solanapay.WithSleep(fastSleep),
		solanapay.WithRecordsPublishedHook(d.RecordsPublishedHook()))
	require.NoError(t, err)
	r.Start(context.Background())
	t.Cleanup(r.Stop)

	events := waitForEvents(t, pub, 1)
	assert.Equal(t, TypeTransferObserved, events[0].Type)
	assert.Equal(t, sig.String(), events[0].Subject)

	// later Stage B passes do not deliver it again
	calls := l.Calls(ledger.MethodGetTransactions)
	require.Eventually(t, func() bool {
		return l.Calls(ledger.MethodGetTransactions) >= calls+3
	}, waitFor, tick)
	assert.Len(t, pub.delivered(), 1)
}
