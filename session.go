package solanapay

import (
	"context"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	solana "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultSessionPollInterval is the watcher cadence while a session is Pending
const DefaultSessionPollInterval = 5 * time.Second

// PaymentSession is the state machine of one checkout attempt.
//
//	New --Generate--> Pending --(reference confirmed)--> Confirmed
//	any --Reset--> New
//
// Amount and memo are editable only while New. A reference exists iff the
// status is not New. All methods are safe for concurrent use.
type PaymentSession struct {
	id        string
	config    MerchantConfig
	client    LedgerClient
	scheduler *BackoffScheduler
	policy    BackoffPolicy
	interval  time.Duration
	params    ExtractParams
	validate  bool
	logger    *zap.Logger

	newReference ReferenceGenerator
	statusHooks  []SessionStatusHook
	pollHooks    []PollHook

	mu         sync.Mutex
	status     SessionStatus
	amount     *decimal.Decimal
	memo       *string
	reference  *solana.PublicKey
	signature  *solana.Signature
	generation uint64
	loop       *Loop
}

// SessionOption configures a PaymentSession
type SessionOption func(*PaymentSession)

// WithPollInterval sets the watcher cadence
func WithPollInterval(interval time.Duration) SessionOption {
	return func(s *PaymentSession) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithSessionLogger sets the session logger
func WithSessionLogger(logger *zap.Logger) SessionOption {
	return func(s *PaymentSession) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithReferenceGenerator replaces the random reference minter
func WithReferenceGenerator(gen ReferenceGenerator) SessionOption {
	return func(s *PaymentSession) {
		if gen != nil {
			s.newReference = gen
		}
	}
}

// WithTransferValidation requires the referenced transaction to pay the
// merchant at least the session amount before the session confirms
func WithTransferValidation() SessionOption {
	return func(s *PaymentSession) {
		s.validate = true
	}
}

// WithSessionBackoff sets the retry policy of each watcher poll
func WithSessionBackoff(policy BackoffPolicy) SessionOption {
	return func(s *PaymentSession) {
		s.policy = policy
	}
}

// WithSessionSleep replaces the sleep used between retries
func WithSessionSleep(sleep SleepFunc) SessionOption {
	return func(s *PaymentSession) {
		s.scheduler = NewBackoffScheduler(sleep)
	}
}

// WithSessionID sets the session identifier instead of a random UUID
func WithSessionID(id string) SessionOption {
	return func(s *PaymentSession) {
		if id != "" {
			s.id = id
		}
	}
}

// WithSessionStatusHook registers a hook executed after every status change
func WithSessionStatusHook(hook SessionStatusHook) SessionOption {
	return func(s *PaymentSession) {
		s.statusHooks = append(s.statusHooks, hook)
	}
}

// WithSessionPollHook registers a hook executed after every watcher poll
func WithSessionPollHook(hook PollHook) SessionOption {
	return func(s *PaymentSession) {
		s.pollHooks = append(s.pollHooks, hook)
	}
}

// NewPaymentSession creates a session in the New state
func NewPaymentSession(client LedgerClient, config MerchantConfig, opts ...SessionOption) (*PaymentSession, error) {
	params, err := NewExtractParams(config, DefaultMaxConfirmations)
	if err != nil {
		return nil, err
	}
	params.IgnoreMemoInstructions = true

	s := &PaymentSession{
		id:           uuid.NewString(),
		config:       config,
		client:       client,
		scheduler:    NewBackoffScheduler(nil),
		policy:       DefaultBackoffPolicy(),
		interval:     DefaultSessionPollInterval,
		params:       params,
		logger:       zap.NewNop(),
		newReference: NewRandomReference,
		status:       SessionStatusNew,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session", s.id))
	return s, nil
}

// ID returns the session identifier
func (s *PaymentSession) ID() string {
	return s.id
}

// Config returns the merchant configuration the session was created with
func (s *PaymentSession) Config() MerchantConfig {
	return s.config
}

// Status returns the current status
func (s *PaymentSession) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Reference returns the issued reference, or nil while New
func (s *PaymentSession) Reference() *solana.PublicKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reference == nil {
		return nil
	}
	ref := *s.reference
	return &ref
}

// Snapshot returns a consistent copy of the session fields
func (s *PaymentSession) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := SessionSnapshot{
		ID:     s.id,
		Status: s.status,
	}
	if s.amount != nil {
		amount := *s.amount
		snap.Amount = &amount
	}
	if s.memo != nil {
		memo := *s.memo
		snap.Memo = &memo
	}
	if s.reference != nil {
		ref := s.reference.String()
		snap.Reference = &ref
	}
	if s.signature != nil {
		sig := s.signature.String()
		snap.Signature = &sig
	}
	return snap
}

// SessionUpdate is a partial edit of the editable fields. A field is
// touched only when its Set flag is true; a nil value clears it.
type SessionUpdate struct {
	SetAmount bool
	Amount    *decimal.Decimal
	SetMemo   bool
	Memo      *string
}

// SetAmount sets or, with nil, clears the amount. Only allowed while New.
func (s *PaymentSession) SetAmount(amount *decimal.Decimal) error {
	return s.Update(SessionUpdate{SetAmount: true, Amount: amount})
}

// SetMemo sets or, with nil, clears the memo. Only allowed while New.
func (s *PaymentSession) SetMemo(memo *string) error {
	return s.Update(SessionUpdate{SetMemo: true, Memo: memo})
}

// Update validates every field of u before applying any of them, so a
// rejected update leaves the session unchanged. Only allowed while New.
func (s *PaymentSession) Update(u SessionUpdate) error {
	if u.SetAmount && u.Amount != nil && !u.Amount.IsPositive() {
		return NewSessionError(ErrCodeInvalidAmount, "amount must be positive", map[string]interface{}{
			"amount": u.Amount.String(),
		})
	}
	if u.SetMemo && u.Memo != nil && !utf8.ValidString(*u.Memo) {
		return NewSessionError(ErrCodeInvalidMemo, "memo must be valid UTF-8", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != SessionStatusNew {
		switch {
		case u.SetAmount:
			return s.notEditable("amount")
		case u.SetMemo:
			return s.notEditable("memo")
		}
		return nil
	}

	if u.SetAmount {
		s.amount = nil
		if u.Amount != nil {
			v := *u.Amount
			s.amount = &v
		}
	}
	if u.SetMemo {
		s.memo = nil
		if u.Memo != nil {
			v := *u.Memo
			s.memo = &v
		}
	}
	return nil
}

func (s *PaymentSession) notEditable(field string) *SessionError {
	return NewSessionError(ErrCodeSessionNotEditable, field+" can only be changed while the session is new", map[string]interface{}{
		"status": string(s.status),
	})
}

// PaymentRequest builds the transfer request for the current fields
func (s *PaymentSession) PaymentRequest() TransferRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := TransferRequest{
		Recipient: s.config.Recipient,
		Label:     s.config.Label,
		Message:   s.config.Message,
	}
	if s.config.IsTokenMode() {
		token := *s.config.SPLToken
		req.SPLToken = &token
	}
	if s.amount != nil {
		amount := *s.amount
		req.Amount = &amount
	}
	if s.memo != nil {
		req.Memo = *s.memo
	}
	if s.reference != nil {
		req.References = []solana.PublicKey{*s.reference}
	}
	return req
}

// Generate mints a reference and starts watching the ledger for it. It is a
// no-op returning false unless the session is New without a reference. The
// watcher outlives ctx's cancellation; it stops on Reset, Close or confirmation.
func (s *PaymentSession) Generate(ctx context.Context) bool {
	s.mu.Lock()
	if s.status != SessionStatusNew || s.reference != nil {
		s.mu.Unlock()
		return false
	}

	ref, err := s.newReference()
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("failed to mint reference", zap.Error(err))
		return false
	}

	s.reference = &ref
	s.status = SessionStatusPending
	s.generation++
	gen := s.generation

	loop := NewLoop()
	s.loop = loop
	loopCtx := loop.Start(context.WithoutCancel(ctx))
	s.mu.Unlock()

	s.logger.Info("payment session pending", zap.String("reference", ref.String()))
	s.fireStatusHooks(ctx, SessionStatusNew, SessionStatusPending, &ref, nil)

	go s.watch(loopCtx, loop, gen, ref)
	return true
}

// Reset cancels any watch and returns the session to New with every field cleared
func (s *PaymentSession) Reset() {
	s.mu.Lock()
	from := s.status
	if s.loop != nil {
		s.loop.Cancel()
		s.loop = nil
	}
	s.status = SessionStatusNew
	s.amount = nil
	s.memo = nil
	s.reference = nil
	s.signature = nil
	s.generation++
	s.mu.Unlock()

	if from != SessionStatusNew {
		s.logger.Info("payment session reset", zap.String("from", string(from)))
		s.fireStatusHooks(context.Background(), from, SessionStatusNew, nil, nil)
	}
}

// Close stops the watcher without changing the session fields and waits
// for it to exit
func (s *PaymentSession) Close() {
	s.mu.Lock()
	loop := s.loop
	s.loop = nil
	s.mu.Unlock()

	if loop == nil {
		return
	}
	loop.Cancel()
	<-loop.Done()
}

func (s *PaymentSession) watch(ctx context.Context, loop *Loop, gen uint64, ref solana.PublicKey) {
	defer loop.Finish()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if s.poll(ctx, loop, gen, ref) {
			return
		}
	}
}

// poll runs one watcher iteration and reports whether the session confirmed
func (s *PaymentSession) poll(ctx context.Context, loop *Loop, gen uint64, ref solana.PublicKey) bool {
	start := time.Now()
	var found *SignatureInfo

	ok := s.scheduler.Run(ctx, func(ctx context.Context) error {
		info, err := s.client.FindReference(ctx, ref)
		if err != nil {
			if errors.Is(err, ErrReferenceNotFound) {
				return nil
			}
			if ctx.Err() == nil {
				s.logger.Warn("failed to find reference", zap.String("reference", ref.String()), zap.Error(err))
			}
			return err
		}
		found = info
		return nil
	}, s.policy.MaxAttempts, s.policy.BaseDelay)

	s.firePollHooks(ok, time.Since(start))
	if !ok || found == nil || !loop.IsLive() {
		return false
	}

	status, err := s.client.GetConfirmationStatus(ctx, found.Signature)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("failed to get confirmation status", zap.String("signature", found.Signature.String()), zap.Error(err))
		}
		return false
	}
	if status == nil || !status.ConfirmationStatus.IsAtLeastConfirmed() {
		return false
	}

	if s.validate {
		if reason := s.validateTransfer(ctx, found.Signature, status); reason != RejectNone {
			s.logger.Debug("referenced transfer rejected",
				zap.String("signature", found.Signature.String()),
				zap.String("reason", string(reason)))
			return false
		}
	}

	return s.confirm(ctx, loop, gen, found.Signature)
}

func (s *PaymentSession) validateTransfer(ctx context.Context, sig solana.Signature, status *SignatureStatus) RejectReason {
	txs, err := s.client.GetTransactions(ctx, []solana.Signature{sig})
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("failed to fetch referenced transaction", zap.String("signature", sig.String()), zap.Error(err))
		}
		return RejectTransactionNotVisible
	}
	if len(txs) != 1 || txs[0] == nil {
		return RejectTransactionNotVisible
	}

	record, reason := ExtractTransfer(txs[0], status, s.params)
	if reason != RejectNone {
		return reason
	}

	s.mu.Lock()
	expected := s.amount
	s.mu.Unlock()
	if expected == nil {
		return RejectNone
	}

	paid, err := decimal.NewFromString(record.Amount)
	if err != nil || paid.LessThan(*expected) {
		return RejectInsufficientAmount
	}
	return RejectNone
}

// confirm publishes the Confirmed transition unless the watch is stale
func (s *PaymentSession) confirm(ctx context.Context, loop *Loop, gen uint64, sig solana.Signature) bool {
	s.mu.Lock()
	if !loop.IsLive() || s.generation != gen || s.status != SessionStatusPending {
		s.mu.Unlock()
		return false
	}
	s.status = SessionStatusConfirmed
	s.signature = &sig
	ref := *s.reference
	loop.Cancel()
	if s.loop == loop {
		s.loop = nil
	}
	s.mu.Unlock()

	s.logger.Info("payment confirmed",
		zap.String("reference", ref.String()),
		zap.String("signature", sig.String()))
	s.fireStatusHooks(context.WithoutCancel(ctx), SessionStatusPending, SessionStatusConfirmed, &ref, &sig)
	return true
}

func (s *PaymentSession) fireStatusHooks(ctx context.Context, from, to SessionStatus, ref *solana.PublicKey, sig *solana.Signature) {
	if len(s.statusHooks) == 0 {
		return
	}

	hookCtx := SessionStatusContext{
		Ctx:       ctx,
		SessionID: s.id,
		From:      from,
		To:        to,
		Reference: ref,
		Signature: sig,
		Timestamp: time.Now(),
	}
	s.mu.Lock()
	if s.amount != nil {
		amount := s.amount.String()
		hookCtx.Amount = &amount
	}
	s.mu.Unlock()

	for _, hook := range s.statusHooks {
		if err := hook(hookCtx); err != nil {
			s.logger.Warn("session status hook failed", zap.Error(err))
		}
	}
}

func (s *PaymentSession) firePollHooks(ok bool, d time.Duration) {
	for _, hook := range s.pollHooks {
		hook(PollResultContext{
			Loop:      PollLoopSession,
			Succeeded: ok,
			Duration:  d,
			NextDelay: s.interval,
		})
	}
}
