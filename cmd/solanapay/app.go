package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	solanapay "github.com/coinbase/solanapay"
	"github.com/coinbase/solanapay/http"
	"github.com/coinbase/solanapay/mechanisms/svm"
	"github.com/coinbase/solanapay/pkg/config"
	"github.com/coinbase/solanapay/pkg/events"
	"github.com/coinbase/solanapay/pkg/logger"
	"github.com/coinbase/solanapay/pkg/monitor"
	"github.com/coinbase/solanapay/pkg/sessionstore"
)

// app holds the components shared by serve and watch
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	merchant  solanapay.MerchantConfig
	client    *svm.Client
	metrics   *monitor.Metrics
	events    *events.Dispatcher
}

func newApp(cfgFile string) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	merchant, err := cfg.MerchantConfig()
	if err != nil {
		return nil, err
	}

	metrics := monitor.New()
	client, err := svm.NewClient(cfg.ClientConfig(),
		svm.WithLogger(log.Named("rpc")),
		svm.WithRequestObserver(metrics.RequestObserver()),
	)
	if err != nil {
		return nil, err
	}

	publisher, err := events.New(cfg.Events, log.Named("events"))
	if err != nil {
		return nil, err
	}

	dispatcher := events.NewDispatcher(publisher,
		events.WithDispatcherLogger(log.Named("events")),
		events.WithRetryPolicy(cfg.BackoffPolicy()),
	)

	return &app{
		cfg:      cfg,
		logger:   log,
		merchant: merchant,
		client:   client,
		metrics:  metrics,
		events:   dispatcher,
	}, nil
}

func (a *app) close() {
	if err := a.events.Close(); err != nil {
		a.logger.Warn("failed to close event publisher", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func (a *app) newReconciler(hooks ...solanapay.RecordsPublishedHook) (*solanapay.TransactionReconciler, error) {
	opts := []solanapay.ReconcilerOption{
		solanapay.WithMaxConfirmations(a.cfg.Solana.MaxConfirmations),
		solanapay.WithSignatureLimit(a.cfg.Solana.SignatureLimit),
		solanapay.WithSignatureCommitment(solanapay.Commitment(a.cfg.Solana.Commitment)),
		solanapay.WithBackoffPolicy(a.cfg.BackoffPolicy()),
		solanapay.WithReconcilerLogger(a.logger.Named("reconciler")),
		solanapay.WithReconcilerPollHook(a.metrics.PollHook()),
		solanapay.WithRecordsPublishedHook(a.metrics.RecordsPublishedHook()),
		solanapay.WithRecordsPublishedHook(a.events.RecordsPublishedHook()),
	}
	for _, hook := range hooks {
		opts = append(opts, solanapay.WithRecordsPublishedHook(hook))
	}

	reconciler, err := solanapay.NewReconciler(a.client, a.merchant, opts...)
	if err != nil {
		return nil, err
	}
	a.metrics.WatchLoading(reconciler.Loading)
	return reconciler, nil
}

func (a *app) sessionFactory(store sessionstore.Store) http.SessionFactory {
	opts := []solanapay.SessionOption{
		solanapay.WithPollInterval(a.cfg.Polling.SessionInterval),
		solanapay.WithSessionBackoff(a.cfg.BackoffPolicy()),
		solanapay.WithSessionLogger(a.logger.Named("session")),
		solanapay.WithSessionStatusHook(store.StatusHook()),
		solanapay.WithSessionStatusHook(a.metrics.SessionStatusHook()),
		solanapay.WithSessionStatusHook(a.events.SessionStatusHook()),
		solanapay.WithSessionPollHook(a.metrics.PollHook()),
	}
	if a.cfg.Polling.ValidateAmount {
		opts = append(opts, solanapay.WithTransferValidation())
	}

	return func() (*solanapay.PaymentSession, error) {
		return solanapay.NewPaymentSession(a.client, a.merchant, opts...)
	}
}

// decimals returns the payment token's decimals, reading the mint in token mode
func (a *app) decimals(ctx context.Context) uint8 {
	if !a.merchant.IsTokenMode() {
		return solanapay.SOLDecimals
	}
	decimals, err := a.client.GetMintDecimals(ctx, *a.merchant.SPLToken)
	if err != nil {
		a.logger.Warn("failed to read mint decimals, using default",
			zap.String("mint", a.merchant.SPLToken.String()),
			zap.Uint8("default", svm.DefaultDecimals),
			zap.Error(err))
		return svm.DefaultDecimals
	}
	return decimals
}
