package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	solanapay "github.com/coinbase/solanapay"
)

// Dispatcher queues events and delivers them to a Publisher on a single
// background goroutine, so a slow or failing backend never blocks the
// reconciler or a session watcher. Every event is retried until the backend
// accepts it or the dispatcher is closed.
//
// transfer.observed events are tracked by signature: a signature is queued at
// most once while undelivered, and marked delivered only after Publish
// returns nil.
type Dispatcher struct {
	pub          Publisher
	logger       *zap.Logger
	scheduler    *solanapay.BackoffScheduler
	sleep        solanapay.SleepFunc
	policy       solanapay.BackoffPolicy
	timeout      time.Duration
	drainTimeout time.Duration

	mu          sync.Mutex
	queue       []Event
	undelivered int
	pending     map[string]struct{}
	delivered   map[string]struct{}

	notify    chan struct{}
	closing   chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger used for delivery failures
func WithDispatcherLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithRetryPolicy sets the retry policy applied to every event
func WithRetryPolicy(policy solanapay.BackoffPolicy) DispatcherOption {
	return func(d *Dispatcher) {
		d.policy = policy
	}
}

// WithDispatcherSleep replaces the sleep used between retries
func WithDispatcherSleep(sleep solanapay.SleepFunc) DispatcherOption {
	return func(d *Dispatcher) {
		if sleep != nil {
			d.sleep = sleep
		}
	}
}

// WithPublishTimeout bounds each Publish attempt
func WithPublishTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithDrainTimeout bounds how long Close waits for queued events
func WithDrainTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout >= 0 {
			d.drainTimeout = timeout
		}
	}
}

// NewDispatcher starts a dispatcher delivering to pub
func NewDispatcher(pub Publisher, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		pub:          pub,
		logger:       zap.NewNop(),
		sleep:        solanapay.ContextSleep,
		policy:       solanapay.DefaultBackoffPolicy(),
		timeout:      DefaultPublishTimeout,
		drainTimeout: DefaultPublishTimeout,
		pending:      make(map[string]struct{}),
		delivered:    make(map[string]struct{}),
		notify:       make(chan struct{}, 1),
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.scheduler = solanapay.NewBackoffScheduler(d.sleep)

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go d.run(ctx)
	return d
}

// Publish queues event for delivery. It never blocks on the backend.
func (d *Dispatcher) Publish(ctx context.Context, event Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enqueueLocked(event)
	return nil
}

// Len returns the number of events accepted but not yet delivered
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.undelivered
}

// SessionStatusHook queues a session.confirmed event for every confirmation
func (d *Dispatcher) SessionStatusHook() solanapay.SessionStatusHook {
	return func(ctx solanapay.SessionStatusContext) error {
		if ctx.To != solanapay.SessionStatusConfirmed {
			return nil
		}
		event, err := NewSessionConfirmed(ctx)
		if err != nil {
			return err
		}
		return d.Publish(ctx.Ctx, event)
	}
}

// RecordsPublishedHook queues a transfer.observed event for every published
// record whose signature is neither delivered nor already queued. Every
// publish re-offers the full list, so a record is offered again until its
// event is delivered.
func (d *Dispatcher) RecordsPublishedHook() solanapay.RecordsPublishedHook {
	return func(ctx solanapay.RecordsPublishedContext) error {
		account := ctx.Account.String()

		d.mu.Lock()
		defer d.mu.Unlock()

		current := make(map[string]struct{}, len(ctx.Records))
		for _, record := range ctx.Records {
			current[record.Signature] = struct{}{}
			if _, ok := d.delivered[record.Signature]; ok {
				continue
			}
			if _, ok := d.pending[record.Signature]; ok {
				continue
			}
			event, err := NewTransferObserved(account, record, ctx.Timestamp)
			if err != nil {
				return err
			}
			d.pending[record.Signature] = struct{}{}
			d.enqueueLocked(event)
		}

		// forget signatures that left the tracked window
		for sig := range d.delivered {
			if _, ok := current[sig]; !ok {
				delete(d.delivered, sig)
			}
		}
		return nil
	}
}

// Close waits up to the drain timeout for queued events, stops delivery and
// closes the underlying publisher. Events still queued are dropped.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() {
		close(d.closing)

		timer := time.NewTimer(d.drainTimeout)
		select {
		case <-d.done:
		case <-timer.C:
		}
		timer.Stop()
		d.cancel()
		<-d.done

		if n := d.Len(); n > 0 {
			d.logger.Warn("dropping undelivered events", zap.Int("count", n))
		}
		d.closeErr = d.pub.Close()
	})
	return d.closeErr
}

// enqueueLocked must be called with d.mu held
func (d *Dispatcher) enqueueLocked(event Event) {
	d.queue = append(d.queue, event)
	d.undelivered++
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) next() (Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return Event{}, false
	}
	event := d.queue[0]
	d.queue[0] = Event{}
	d.queue = d.queue[1:]
	return event, true
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)

	for {
		event, ok := d.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-d.closing:
				return
			case <-d.notify:
				continue
			}
		}
		if !d.deliver(ctx, event) {
			return
		}
	}
}

// deliver publishes event until it succeeds. It returns false when ctx is done.
func (d *Dispatcher) deliver(ctx context.Context, event Event) bool {
	backoff := solanapay.NewBackoffState(d.policy.BaseDelay, d.policy.MaxDelay)

	for {
		var lastErr error
		ok := d.scheduler.Run(ctx, func(ctx context.Context) error {
			pctx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()
			lastErr = d.pub.Publish(pctx, event)
			return lastErr
		}, d.policy.MaxAttempts, d.policy.BaseDelay)

		if ok {
			d.markDelivered(event)
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		delay := backoff.Failed()
		d.logger.Warn("failed to publish event",
			zap.String("type", event.Type),
			zap.String("subject", event.Subject),
			zap.Duration("retryIn", delay),
			zap.Error(lastErr))
		if err := d.sleep(ctx, delay); err != nil {
			return false
		}
	}
}

func (d *Dispatcher) markDelivered(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.undelivered--
	if event.Type == TypeTransferObserved {
		delete(d.pending, event.Subject)
		d.delivered[event.Subject] = struct{}{}
	}
}

var _ Publisher = (*Dispatcher)(nil)
