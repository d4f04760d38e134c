package svm

import (
	"time"

	solanapay "github.com/coinbase/solanapay"
)

// AssetInfo describes a token on a network
type AssetInfo struct {
	Address  string
	Symbol   string
	Decimals uint8
}

// NetworkConfig holds per-cluster defaults
type NetworkConfig struct {
	CAIP2        string
	Name         string
	RPCURL       string
	DefaultAsset AssetInfo
}

// ClientConfig configures a ledger Client
type ClientConfig struct {
	// Network is a CAIP-2 identifier or cluster name; it selects the default RPC URL
	Network string
	// RPCURL overrides the network's default endpoint
	RPCURL string
	// RequestsPerSecond limits outgoing calls; zero uses DefaultRequestsPerSecond
	RequestsPerSecond float64
	// Burst is the limiter bucket size; zero uses DefaultRequestBurst
	Burst int
	// FetchConcurrency bounds parallel getTransaction calls
	FetchConcurrency int
	// Commitment used for reference lookups and transaction fetches
	Commitment solanapay.Commitment
}

// RequestObserver is notified after every JSON-RPC call
type RequestObserver func(method string, duration time.Duration, err error)
