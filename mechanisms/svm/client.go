package svm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	solanapay "github.com/coinbase/solanapay"
)

// RPC is the subset of the Solana JSON-RPC API used by Client.
// *rpc.Client implements it.
type RPC interface {
	GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	GetTransaction(ctx context.Context, txSig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

var _ RPC = (*rpc.Client)(nil)

// Client implements solanapay.LedgerClient over Solana JSON-RPC
type Client struct {
	rpc         RPC
	commitment  rpc.CommitmentType
	concurrency int
	logger      *zap.Logger
	observer    RequestObserver

	mintDecimals sync.Map // solana.PublicKey -> uint8
}

var _ solanapay.LedgerClient = (*Client)(nil)

// ClientOption configures a Client
type ClientOption func(*Client)

// WithLogger sets the client logger
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRequestObserver registers a callback run after every RPC call
func WithRequestObserver(observer RequestObserver) ClientOption {
	return func(c *Client) {
		c.observer = observer
	}
}

// NewClient creates a rate-limited client for config
func NewClient(config ClientConfig, opts ...ClientOption) (*Client, error) {
	url := config.RPCURL
	if url == "" {
		network := config.Network
		if network == "" {
			network = SolanaMainnetCAIP2
		}
		netConfig, err := GetNetworkConfig(network)
		if err != nil {
			return nil, err
		}
		url = netConfig.RPCURL
	}

	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	burst := config.Burst
	if burst <= 0 {
		burst = DefaultRequestBurst
	}

	rpcClient := rpc.NewWithCustomRPCClient(rpc.NewWithLimiter(url, rate.Limit(rps), burst))
	return NewClientWithRPC(rpcClient, config, opts...), nil
}

// NewClientWithRPC wraps an existing RPC implementation
func NewClientWithRPC(r RPC, config ClientConfig, opts ...ClientOption) *Client {
	c := &Client{
		rpc:         r,
		commitment:  rpc.CommitmentConfirmed,
		concurrency: DefaultTransactionFetchConcurrency,
		logger:      zap.NewNop(),
	}
	if config.Commitment != "" {
		c.commitment = rpc.CommitmentType(config.Commitment)
	}
	if config.FetchConcurrency > 0 {
		c.concurrency = config.FetchConcurrency
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FindReference returns the oldest transaction that includes reference
func (c *Client) FindReference(ctx context.Context, reference solana.PublicKey) (*solanapay.SignatureInfo, error) {
	limit := ReferenceSearchLimit
	var sigs []*rpc.TransactionSignature
	err := c.observe("getSignaturesForAddress", func() (err error) {
		sigs, err = c.rpc.GetSignaturesForAddressWithOpts(ctx, reference, &rpc.GetSignaturesForAddressOpts{
			Limit:      &limit,
			Commitment: c.commitment,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search reference %s: %w", reference, err)
	}
	if len(sigs) == 0 {
		return nil, &solanapay.ReferenceNotFoundError{Reference: reference.String()}
	}

	// newest first: the last entry is the oldest
	info := convertSignature(sigs[len(sigs)-1])
	return &info, nil
}

// GetConfirmationStatus returns the status of one signature, or nil if unknown
func (c *Client) GetConfirmationStatus(ctx context.Context, signature solana.Signature) (*solanapay.SignatureStatus, error) {
	statuses, err := c.GetSignatureStatuses(ctx, []solana.Signature{signature}, false)
	if err != nil {
		return nil, err
	}
	return statuses[0], nil
}

// ListSignatures returns the newest signatures of account
func (c *Client) ListSignatures(ctx context.Context, account solana.PublicKey, limit int, commitment solanapay.Commitment) ([]solanapay.SignatureInfo, error) {
	opts := &rpc.GetSignaturesForAddressOpts{Commitment: rpc.CommitmentType(commitment)}
	if limit > 0 {
		opts.Limit = &limit
	}

	var sigs []*rpc.TransactionSignature
	err := c.observe("getSignaturesForAddress", func() (err error) {
		sigs, err = c.rpc.GetSignaturesForAddressWithOpts(ctx, account, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list signatures for %s: %w", account, err)
	}

	out := make([]solanapay.SignatureInfo, 0, len(sigs))
	for _, sig := range sigs {
		if sig == nil {
			continue
		}
		out = append(out, convertSignature(sig))
	}
	return out, nil
}

// GetTransactions fetches and decodes signatures in parallel. The result is
// index-aligned with signatures; unknown signatures are nil.
func (c *Client) GetTransactions(ctx context.Context, signatures []solana.Signature) ([]*solanapay.Transaction, error) {
	out := make([]*solanapay.Transaction, len(signatures))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, sig := range signatures {
		g.Go(func() error {
			tx, err := c.getTransaction(gctx, sig)
			if err != nil {
				return err
			}
			out[i] = tx
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getTransaction(ctx context.Context, sig solana.Signature) (*solanapay.Transaction, error) {
	maxVersion := uint64(0)
	var result *rpc.GetTransactionResult
	err := c.observe("getTransaction", func() (err error) {
		result, err = c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     c.commitment,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		return err
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", sig, err)
	}
	if result == nil || result.Transaction == nil {
		return nil, nil
	}

	parsed, err := result.Transaction.GetTransaction()
	if err != nil {
		c.logger.Debug("undecodable transaction", zap.String("signature", sig.String()), zap.Error(err))
		return nil, nil
	}

	tx, err := DecodeTransaction(sig, result.Slot, result.BlockTime, parsed, result.Meta)
	if err != nil {
		c.logger.Debug("undecodable transaction", zap.String("signature", sig.String()), zap.Error(err))
		return nil, nil
	}
	return tx, nil
}

// GetSignatureStatuses returns statuses index-aligned with signatures
func (c *Client) GetSignatureStatuses(ctx context.Context, signatures []solana.Signature, searchTransactionHistory bool) ([]*solanapay.SignatureStatus, error) {
	out := make([]*solanapay.SignatureStatus, len(signatures))
	if len(signatures) == 0 {
		return out, nil
	}

	var result *rpc.GetSignatureStatusesResult
	err := c.observe("getSignatureStatuses", func() (err error) {
		result, err = c.rpc.GetSignatureStatuses(ctx, searchTransactionHistory, signatures...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get signature statuses: %w", err)
	}
	if result == nil {
		return out, nil
	}

	for i, status := range result.Value {
		if i >= len(out) || status == nil {
			continue
		}
		out[i] = &solanapay.SignatureStatus{
			Slot:               status.Slot,
			Confirmations:      status.Confirmations,
			Err:                status.Err,
			ConfirmationStatus: solanapay.ConfirmationStatus(status.ConfirmationStatus),
		}
	}
	return out, nil
}

// GetMintDecimals reads the decimals of an SPL Token or Token-2022 mint.
// Results are cached for the lifetime of the client.
func (c *Client) GetMintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	if v, ok := c.mintDecimals.Load(mint); ok {
		return v.(uint8), nil
	}

	var info *rpc.GetAccountInfoResult
	err := c.observe("getAccountInfo", func() (err error) {
		info, err = c.rpc.GetAccountInfo(ctx, mint)
		return err
	})
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && (info == nil || info.Value == nil)) {
		return 0, fmt.Errorf("%s: %s", ErrMintNotFound, mint)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get mint account %s: %w", mint, err)
	}

	if !IsTokenProgram(info.Value.Owner) {
		return 0, fmt.Errorf("%s: %s is owned by %s", ErrUnknownTokenProgram, mint, info.Value.Owner)
	}

	var mintData token.Mint
	if err := bin.NewBinDecoder(info.Value.Data.GetBinary()).Decode(&mintData); err != nil {
		return 0, fmt.Errorf("failed to decode mint data: %w", err)
	}

	c.mintDecimals.Store(mint, mintData.Decimals)
	return mintData.Decimals, nil
}

func (c *Client) observe(method string, call func() error) error {
	start := time.Now()
	err := call()
	if c.observer != nil {
		c.observer(method, time.Since(start), err)
	}
	return err
}

func convertSignature(sig *rpc.TransactionSignature) solanapay.SignatureInfo {
	info := solanapay.SignatureInfo{
		Signature:          sig.Signature,
		Slot:               sig.Slot,
		Err:                sig.Err,
		Memo:               sig.Memo,
		ConfirmationStatus: solanapay.ConfirmationStatus(sig.ConfirmationStatus),
	}
	if sig.BlockTime != nil {
		t := sig.BlockTime.Time().UTC()
		info.BlockTime = &t
	}
	return info
}
