package sessionstore

import (
	"context"
	"sync"
	"testing"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	solanapay "github.com/coinbase/solanapay"
	"github.com/coinbase/solanapay/test/mocks/ledger"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newSession(t *testing.T, l *ledger.Ledger, store Store, opts ...solanapay.SessionOption) *solanapay.PaymentSession {
	t.Helper()
	opts = append([]solanapay.SessionOption{
		solanapay.WithPollInterval(time.Millisecond),
		solanapay.WithSessionStatusHook(store.StatusHook()),
	}, opts...)
	session, err := solanapay.NewPaymentSession(l, solanapay.MerchantConfig{Recipient: ledger.NewKey()}, opts...)
	require.NoError(t, err)
	t.Cleanup(session.Close)
	return session
}

func TestInMemoryStore_PutGetDelete(t *testing.T) {
	store := NewInMemoryStore()
	session := newSession(t, ledger.New(), store)

	_, ok := store.Get(session.ID())
	assert.False(t, ok)

	store.Put(session)
	got, ok := store.Get(session.ID())
	require.True(t, ok)
	assert.Same(t, session, got)
	assert.Equal(t, 1, store.Len())

	assert.True(t, store.Delete(session.ID()))
	assert.False(t, store.Delete(session.ID()))
	assert.Equal(t, 0, store.Len())
}

func TestInMemoryStore_DeleteStopsWatcher(t *testing.T) {
	l := ledger.New()
	store := NewInMemoryStore()
	session := newSession(t, l, store)
	store.Put(session)

	require.True(t, session.Generate(context.Background()))
	require.Eventually(t, func() bool {
		return l.Calls(ledger.MethodFindReference) > 0
	}, 2*time.Second, time.Millisecond)

	require.True(t, store.Delete(session.ID()))
	calls := l.Calls(ledger.MethodFindReference)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, l.Calls(ledger.MethodFindReference))
}

func TestInMemoryStore_ConfirmedSessionsExpire(t *testing.T) {
	c := &clock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	store := NewInMemoryStore(WithTTL(time.Minute), WithClock(c.Now))

	l := ledger.New()
	ref := solana.NewWallet().PublicKey()
	sig := ledger.Signature(1)
	l.AddReference(ref, sig)
	l.SetStatus(sig, solanapay.ConfirmationStatusConfirmed, nil)

	confirmed := make(chan struct{})
	session := newSession(t, l, store,
		solanapay.WithReferenceGenerator(func() (solana.PublicKey, error) {
			return ref, nil
		}),
		// runs after the store's hook
		solanapay.WithSessionStatusHook(func(ctx solanapay.SessionStatusContext) error {
			if ctx.To == solanapay.SessionStatusConfirmed {
				close(confirmed)
			}
			return nil
		}),
	)
	pending := newSession(t, ledger.New(), store)
	store.Put(session)
	store.Put(pending)

	require.True(t, session.Generate(context.Background()))
	require.True(t, pending.Generate(context.Background()))
	select {
	case <-confirmed:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not confirm")
	}

	c.Advance(30 * time.Second)
	_, ok := store.Get(session.ID())
	assert.True(t, ok)

	c.Advance(time.Minute)
	_, ok = store.Get(session.ID())
	assert.False(t, ok)

	// pending sessions never expire
	c.Advance(24 * time.Hour)
	_, ok = store.Get(pending.ID())
	assert.True(t, ok)
	assert.Equal(t, 1, store.Len())
}

func TestInMemoryStore_ResetClearsExpiry(t *testing.T) {
	c := &clock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	store := NewInMemoryStore(WithTTL(time.Minute), WithClock(c.Now))

	l := ledger.New()
	ref := solana.NewWallet().PublicKey()
	sig := ledger.Signature(1)
	l.AddReference(ref, sig)
	l.SetStatus(sig, solanapay.ConfirmationStatusConfirmed, nil)

	confirmed := make(chan struct{})
	session := newSession(t, l, store,
		solanapay.WithReferenceGenerator(func() (solana.PublicKey, error) {
			return ref, nil
		}),
		solanapay.WithSessionStatusHook(func(ctx solanapay.SessionStatusContext) error {
			if ctx.To == solanapay.SessionStatusConfirmed {
				close(confirmed)
			}
			return nil
		}),
	)
	store.Put(session)

	require.True(t, session.Generate(context.Background()))
	select {
	case <-confirmed:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not confirm")
	}
	session.Reset()

	c.Advance(time.Hour)
	_, ok := store.Get(session.ID())
	assert.True(t, ok)

	// unknown sessions are ignored
	hook := store.StatusHook()
	assert.NoError(t, hook(solanapay.SessionStatusContext{SessionID: "missing", To: solanapay.SessionStatusConfirmed}))
}

func TestInMemoryStore_SupersededTransitionIgnored(t *testing.T) {
	c := &clock{now: time.Now()}
	store := NewInMemoryStore(WithTTL(time.Minute), WithClock(c.Now))
	session := newSession(t, ledger.New(), store)
	store.Put(session)

	// a confirmation reported after the session was already reset to New
	hook := store.StatusHook()
	require.NoError(t, hook(solanapay.SessionStatusContext{
		SessionID: session.ID(),
		From:      solanapay.SessionStatusPending,
		To:        solanapay.SessionStatusConfirmed,
	}))
	require.Equal(t, solanapay.SessionStatusNew, session.Status())

	c.Advance(time.Hour)
	got, ok := store.Get(session.ID())
	require.True(t, ok)
	assert.Same(t, session, got)
}

func TestInMemoryStore_Close(t *testing.T) {
	store := NewInMemoryStore()
	for i := 0; i < 3; i++ {
		session := newSession(t, ledger.New(), store)
		require.True(t, session.Generate(context.Background()))
		store.Put(session)
	}
	require.Equal(t, 3, store.Len())

	store.Close()
	assert.Equal(t, 0, store.Len())
}
