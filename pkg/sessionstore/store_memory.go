package sessionstore

import (
	"sync"
	"time"

	solanapay "github.com/coinbase/solanapay"
)

// DefaultTTL is how long confirmed sessions stay readable
const DefaultTTL = 30 * time.Minute

type entry struct {
	session *solanapay.PaymentSession
	// zero while the session is not confirmed
	expiry time.Time
}

// InMemoryStore is a single-process Store.
//
// Features:
//   - Thread-safe with mutex protection
//   - Configurable TTL for confirmed sessions
//   - Lazy cleanup of expired entries
type InMemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*entry
	ttl      time.Duration
	now      func() time.Time
}

// Option configures an InMemoryStore
type Option func(*InMemoryStore)

// WithTTL sets how long confirmed sessions are kept. Default: 30 minutes
func WithTTL(ttl time.Duration) Option {
	return func(s *InMemoryStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *InMemoryStore) {
		s.now = now
	}
}

// NewInMemoryStore creates an empty store
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{
		sessions: make(map[string]*entry),
		ttl:      DefaultTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Put(session *solanapay.PaymentSession) {
	s.mu.Lock()
	s.sessions[session.ID()] = &entry{session: session}
	expired := s.cleanupExpiredLocked()
	s.mu.Unlock()

	closeAll(expired)
}

func (s *InMemoryStore) Get(id string) (*solanapay.PaymentSession, bool) {
	s.mu.Lock()
	e, ok := s.sessions[id]
	if ok && s.expiredLocked(e) {
		delete(s.sessions, id)
		s.mu.Unlock()
		e.session.Close()
		return nil, false
	}
	s.mu.Unlock()

	if !ok {
		return nil, false
	}
	return e.session, true
}

func (s *InMemoryStore) Delete(id string) bool {
	s.mu.Lock()
	e, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		e.session.Close()
	}
	return ok
}

func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	expired := s.cleanupExpiredLocked()
	n := len(s.sessions)
	s.mu.Unlock()

	closeAll(expired)
	return n
}

func (s *InMemoryStore) StatusHook() solanapay.SessionStatusHook {
	return func(ctx solanapay.SessionStatusContext) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		e, ok := s.sessions[ctx.SessionID]
		if !ok {
			return nil
		}
		// hooks fire outside the session lock; a transition that was
		// already superseded must not change the expiry
		if e.session.Status() != ctx.To {
			return nil
		}
		if ctx.To == solanapay.SessionStatusConfirmed {
			e.expiry = s.now().Add(s.ttl)
		} else {
			e.expiry = time.Time{}
		}
		return nil
	}
}

func (s *InMemoryStore) Close() {
	s.mu.Lock()
	sessions := make([]*solanapay.PaymentSession, 0, len(s.sessions))
	for _, e := range s.sessions {
		sessions = append(sessions, e.session)
	}
	s.sessions = make(map[string]*entry)
	s.mu.Unlock()

	closeAll(sessions)
}

func (s *InMemoryStore) expiredLocked(e *entry) bool {
	return !e.expiry.IsZero() && s.now().After(e.expiry)
}

// cleanupExpiredLocked removes expired entries and returns their sessions.
// Must be called with lock held; the caller closes the sessions after unlocking.
func (s *InMemoryStore) cleanupExpiredLocked() []*solanapay.PaymentSession {
	var expired []*solanapay.PaymentSession
	for id, e := range s.sessions {
		if s.expiredLocked(e) {
			expired = append(expired, e.session)
			delete(s.sessions, id)
		}
	}
	return expired
}

func closeAll(sessions []*solanapay.PaymentSession) {
	for _, session := range sessions {
		session.Close()
	}
}

// Ensure InMemoryStore implements Store
var _ Store = (*InMemoryStore)(nil)
