package svm

import (
	solanapay "github.com/coinbase/solanapay"
)

const (
	// DefaultDecimals is the decimals of USDC on every Solana cluster
	DefaultDecimals = 6

	// DefaultMaxConfirmations is reported for finalized transactions
	DefaultMaxConfirmations = solanapay.DefaultMaxConfirmations

	// DefaultRequestsPerSecond bounds outgoing JSON-RPC calls per client
	DefaultRequestsPerSecond = 10
	// DefaultRequestBurst is the token bucket size of the RPC limiter
	DefaultRequestBurst = 5

	// DefaultTransactionFetchConcurrency bounds parallel getTransaction calls
	DefaultTransactionFetchConcurrency = 4

	// ReferenceSearchLimit is the page size used when searching a reference's history
	ReferenceSearchLimit = 1000

	// CAIP-2 network identifiers (genesis hash prefixes)
	SolanaMainnetCAIP2 = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	SolanaDevnetCAIP2  = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
	SolanaTestnetCAIP2 = "solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z"

	// Cluster names
	SolanaMainnetV1 = "solana"
	SolanaDevnetV1  = "solana-devnet"
	SolanaTestnetV1 = "solana-testnet"

	// Default public RPC endpoints
	MainnetRPCURL = "https://api.mainnet-beta.solana.com"
	DevnetRPCURL  = "https://api.devnet.solana.com"
	TestnetRPCURL = "https://api.testnet.solana.com"

	// Program addresses
	MemoProgramAddress         = "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr"
	TokenProgramAddress        = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramAddress    = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	AssociatedTokenProgramAddr = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"

	// Error codes
	ErrInvalidAddress        = "invalid_solana_address"
	ErrUnsupportedNetwork    = "unsupported_solana_network"
	ErrMintNotFound          = "mint_account_not_found"
	ErrUnknownTokenProgram   = "mint_not_owned_by_token_program"
	ErrTransactionUndecoded  = "transaction_not_decodable"
	ErrInvalidInstructionIdx = "instruction_account_index_out_of_range"
)

var (
	// NetworkConfigs maps CAIP-2 identifiers and cluster names to their defaults
	NetworkConfigs = map[string]NetworkConfig{
		// Mainnet
		SolanaMainnetCAIP2: {
			CAIP2:  SolanaMainnetCAIP2,
			Name:   SolanaMainnetV1,
			RPCURL: MainnetRPCURL,
			DefaultAsset: AssetInfo{
				Address:  "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", // USDC on Solana
				Symbol:   "USDC",
				Decimals: DefaultDecimals,
			},
		},
		// Devnet
		SolanaDevnetCAIP2: {
			CAIP2:  SolanaDevnetCAIP2,
			Name:   SolanaDevnetV1,
			RPCURL: DevnetRPCURL,
			DefaultAsset: AssetInfo{
				Address:  "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU", // USDC on Devnet
				Symbol:   "USDC",
				Decimals: DefaultDecimals,
			},
		},
		// Testnet
		SolanaTestnetCAIP2: {
			CAIP2:  SolanaTestnetCAIP2,
			Name:   SolanaTestnetV1,
			RPCURL: TestnetRPCURL,
			DefaultAsset: AssetInfo{
				Address:  "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
				Symbol:   "USDC",
				Decimals: DefaultDecimals,
			},
		},
	}

	// nameToCAIP2 maps cluster names to CAIP-2 identifiers
	nameToCAIP2 = map[string]string{
		SolanaMainnetV1: SolanaMainnetCAIP2,
		"mainnet":       SolanaMainnetCAIP2,
		"mainnet-beta":  SolanaMainnetCAIP2,
		SolanaDevnetV1:  SolanaDevnetCAIP2,
		"devnet":        SolanaDevnetCAIP2,
		SolanaTestnetV1: SolanaTestnetCAIP2,
		"testnet":       SolanaTestnetCAIP2,
	}
)
