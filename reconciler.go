package solanapay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// DefaultSignatureLimit is the number of recent signatures tracked
const DefaultSignatureLimit = 10

// TransactionReconciler keeps a reconciled list of incoming transfers to one
// account. Stage A polls the account's recent signatures; whenever that list
// is non-empty Stage B resolves every signature into a TransferRecord. Both
// stages publish by atomic replace, so readers never see a partial list.
type TransactionReconciler struct {
	client           LedgerClient
	config           MerchantConfig
	params           ExtractParams
	scheduler        *BackoffScheduler
	sleep            SleepFunc
	policy           BackoffPolicy
	limit            int
	commitment       Commitment
	logger           *zap.Logger
	publishedHooks   []RecordsPublishedHook
	pollHooks        []PollHook
	maxConfirmations uint64

	signatures atomic.Pointer[[]solana.Signature]
	records    atomic.Pointer[[]TransferRecord]
	listGen    atomic.Uint64
	inFlight   atomic.Int32
	wake       chan struct{}

	mu   sync.Mutex
	loop *Loop
}

// ReconcilerOption configures a TransactionReconciler
type ReconcilerOption func(*TransactionReconciler)

// WithMaxConfirmations sets the confirmation count reported for finalized transfers
func WithMaxConfirmations(max uint64) ReconcilerOption {
	return func(r *TransactionReconciler) {
		r.maxConfirmations = max
	}
}

// WithSignatureLimit sets how many recent signatures Stage A requests
func WithSignatureLimit(limit int) ReconcilerOption {
	return func(r *TransactionReconciler) {
		if limit > 0 {
			r.limit = limit
		}
	}
}

// WithSignatureCommitment sets the commitment used by Stage A
func WithSignatureCommitment(commitment Commitment) ReconcilerOption {
	return func(r *TransactionReconciler) {
		if commitment != "" {
			r.commitment = commitment
		}
	}
}

// WithBackoffPolicy sets the retry policy of both stages
func WithBackoffPolicy(policy BackoffPolicy) ReconcilerOption {
	return func(r *TransactionReconciler) {
		r.policy = policy
	}
}

// WithSleep replaces the sleep used between retries and between polls
func WithSleep(sleep SleepFunc) ReconcilerOption {
	return func(r *TransactionReconciler) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// WithReconcilerLogger sets the reconciler logger
func WithReconcilerLogger(logger *zap.Logger) ReconcilerOption {
	return func(r *TransactionReconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRecordsPublishedHook registers a hook executed after every record publish
func WithRecordsPublishedHook(hook RecordsPublishedHook) ReconcilerOption {
	return func(r *TransactionReconciler) {
		r.publishedHooks = append(r.publishedHooks, hook)
	}
}

// WithReconcilerPollHook registers a hook executed after every stage poll
func WithReconcilerPollHook(hook PollHook) ReconcilerOption {
	return func(r *TransactionReconciler) {
		r.pollHooks = append(r.pollHooks, hook)
	}
}

// NewReconciler creates a reconciler for config. The watched account is the
// recipient, or in token mode its associated token account.
func NewReconciler(client LedgerClient, config MerchantConfig, opts ...ReconcilerOption) (*TransactionReconciler, error) {
	r := &TransactionReconciler{
		client:           client,
		config:           config,
		sleep:            ContextSleep,
		policy:           DefaultBackoffPolicy(),
		limit:            DefaultSignatureLimit,
		commitment:       CommitmentConfirmed,
		logger:           zap.NewNop(),
		maxConfirmations: DefaultMaxConfirmations,
		wake:             make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}

	params, err := NewExtractParams(config, r.maxConfirmations)
	if err != nil {
		return nil, err
	}
	r.params = params
	r.scheduler = NewBackoffScheduler(r.sleep)
	r.logger = r.logger.With(zap.String("account", params.WatchedAccount().String()))
	return r, nil
}

// Account returns the watched account
func (r *TransactionReconciler) Account() solana.PublicKey {
	return r.params.WatchedAccount()
}

// Records returns the most recently published transfer list
func (r *TransactionReconciler) Records() []TransferRecord {
	p := r.records.Load()
	if p == nil {
		return nil
	}
	out := make([]TransferRecord, len(*p))
	copy(out, *p)
	return out
}

// Signatures returns the most recently published signature list
func (r *TransactionReconciler) Signatures() []solana.Signature {
	p := r.signatures.Load()
	if p == nil {
		return nil
	}
	out := make([]solana.Signature, len(*p))
	copy(out, *p)
	return out
}

// Loading reports whether a ledger call of either stage is in flight
func (r *TransactionReconciler) Loading() bool {
	return r.inFlight.Load() > 0
}

// Start launches both stages. It is a no-op while already running.
func (r *TransactionReconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loop != nil && r.loop.IsLive() {
		return
	}

	loop := NewLoop()
	r.loop = loop
	loopCtx := loop.Start(ctx)

	r.logger.Info("starting transaction reconciler",
		zap.Int("limit", r.limit),
		zap.Bool("tokenMode", r.config.IsTokenMode()))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.discoverSignatures(loopCtx, loop)
	}()
	go func() {
		defer wg.Done()
		r.resolveTransactions(loopCtx, loop)
	}()
	go func() {
		wg.Wait()
		loop.Finish()
	}()
}

// Stop cancels both stages and waits for them to exit. Results that arrive
// after Stop are discarded.
func (r *TransactionReconciler) Stop() {
	r.mu.Lock()
	loop := r.loop
	r.loop = nil
	r.mu.Unlock()

	if loop == nil {
		return
	}
	loop.Cancel()
	<-loop.Done()
	r.logger.Info("transaction reconciler stopped")
}

// Stage A
func (r *TransactionReconciler) discoverSignatures(ctx context.Context, loop *Loop) {
	backoff := NewBackoffState(r.policy.BaseDelay, r.policy.MaxDelay)

	for {
		start := time.Now()
		var sigs []solana.Signature

		ok := r.track(func() bool {
			return r.scheduler.Run(ctx, func(ctx context.Context) error {
				infos, err := r.client.ListSignatures(ctx, r.params.WatchedAccount(), r.limit, r.commitment)
				if err != nil {
					r.logFailure(ctx, "failed to list signatures", err)
					return err
				}
				sigs = make([]solana.Signature, 0, len(infos))
				for _, info := range infos {
					sigs = append(sigs, info.Signature)
				}
				return nil
			}, r.policy.MaxAttempts, r.policy.BaseDelay)
		})

		var delay time.Duration
		if ok {
			delay = backoff.Succeeded()
			if loop.IsLive() {
				r.publishSignatures(sigs)
			}
		} else {
			delay = backoff.Failed()
		}
		r.firePollHooks(PollLoopSignatures, ok, time.Since(start), delay)

		if err := r.sleep(ctx, delay); err != nil {
			return
		}
	}
}

// publishSignatures replaces the stored list when its ordered contents
// differ and wakes Stage B
func (r *TransactionReconciler) publishSignatures(sigs []solana.Signature) bool {
	if prev := r.signatures.Load(); prev != nil && signaturesEqual(*prev, sigs) {
		return false
	}

	// store before bumping the generation so a Stage B pass that read the
	// previous list always sees a newer generation
	r.signatures.Store(&sigs)
	r.listGen.Add(1)
	r.logger.Debug("signature list changed", zap.Int("count", len(sigs)))

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

// Stage B
func (r *TransactionReconciler) resolveTransactions(ctx context.Context, loop *Loop) {
	backoff := NewBackoffState(r.policy.BaseDelay, r.policy.MaxDelay)

	for {
		gen := r.listGen.Load()
		var sigs []solana.Signature
		if p := r.signatures.Load(); p != nil {
			sigs = *p
		}

		if len(sigs) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-r.wake:
				continue
			}
		}

		start := time.Now()
		var records []TransferRecord

		ok := r.track(func() bool {
			return r.scheduler.Run(ctx, func(ctx context.Context) error {
				resolved, err := r.fetchRecords(ctx, sigs)
				if err != nil {
					r.logFailure(ctx, "failed to resolve transactions", err)
					return err
				}
				records = resolved
				return nil
			}, r.policy.MaxAttempts, r.policy.BaseDelay)
		})

		var delay time.Duration
		if ok {
			delay = backoff.Succeeded()
			// the list may have changed while the batch was in flight
			if loop.IsLive() && r.listGen.Load() == gen {
				r.publishRecords(ctx, records)
			}
		} else {
			delay = backoff.Failed()
		}
		r.firePollHooks(PollLoopTransactions, ok, time.Since(start), delay)

		if !r.waitOrWake(ctx, delay) {
			return
		}
	}
}

// waitOrWake sleeps for d unless Stage A publishes a new list first.
// It returns false when ctx is done.
func (r *TransactionReconciler) waitOrWake(ctx context.Context, d time.Duration) bool {
	sleepCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- r.sleep(sleepCtx, d)
	}()

	select {
	case <-r.wake:
		cancel()
		<-done
		return ctx.Err() == nil
	case <-done:
		return ctx.Err() == nil
	}
}

func (r *TransactionReconciler) fetchRecords(ctx context.Context, sigs []solana.Signature) ([]TransferRecord, error) {
	txs, err := r.client.GetTransactions(ctx, sigs)
	if err != nil {
		return nil, err
	}
	statuses, err := r.client.GetSignatureStatuses(ctx, sigs, true)
	if err != nil {
		return nil, err
	}

	records := make([]TransferRecord, 0, len(sigs))
	for i, sig := range sigs {
		var (
			tx     *Transaction
			status *SignatureStatus
		)
		if i < len(txs) {
			tx = txs[i]
		}
		if i < len(statuses) {
			status = statuses[i]
		}

		record, reason := ExtractTransfer(tx, status, r.params)
		if reason != RejectNone {
			r.logger.Debug("transaction excluded",
				zap.String("signature", sig.String()),
				zap.String("reason", string(reason)))
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func (r *TransactionReconciler) publishRecords(ctx context.Context, records []TransferRecord) {
	var previous []TransferRecord
	if p := r.records.Load(); p != nil {
		previous = *p
	}
	r.records.Store(&records)

	if len(r.publishedHooks) == 0 {
		return
	}

	seen := make(map[string]struct{}, len(previous))
	for _, rec := range previous {
		seen[rec.Signature] = struct{}{}
	}
	var added []TransferRecord
	for _, rec := range records {
		if _, ok := seen[rec.Signature]; !ok {
			added = append(added, rec)
		}
	}

	hookCtx := RecordsPublishedContext{
		Ctx:       ctx,
		Account:   r.params.WatchedAccount(),
		Records:   records,
		Added:     added,
		Timestamp: time.Now(),
	}
	for _, hook := range r.publishedHooks {
		if err := hook(hookCtx); err != nil {
			r.logger.Warn("records published hook failed", zap.Error(err))
		}
	}
}

// track marks a stage call in flight for the duration of fn
func (r *TransactionReconciler) track(fn func() bool) bool {
	r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	return fn()
}

func (r *TransactionReconciler) logFailure(ctx context.Context, msg string, err error) {
	if ctx.Err() != nil {
		return
	}
	r.logger.Warn(msg, zap.Error(err))
}

func (r *TransactionReconciler) firePollHooks(loop string, ok bool, d, next time.Duration) {
	for _, hook := range r.pollHooks {
		hook(PollResultContext{
			Loop:      loop,
			Succeeded: ok,
			Duration:  d,
			NextDelay: next,
		})
	}
}

func signaturesEqual(a, b []solana.Signature) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
