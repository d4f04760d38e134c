package svm

import (
	"fmt"
	"strings"

	solana "github.com/gagliardetto/solana-go"
)

// NormalizeNetwork converts a cluster name or CAIP-2 identifier to CAIP-2
func NormalizeNetwork(network string) (string, error) {
	network = strings.TrimSpace(network)
	if _, ok := NetworkConfigs[network]; ok {
		return network, nil
	}
	if caip2, ok := nameToCAIP2[strings.ToLower(network)]; ok {
		return caip2, nil
	}
	return "", fmt.Errorf("%s: %s", ErrUnsupportedNetwork, network)
}

// IsValidNetwork reports whether network is a supported cluster
func IsValidNetwork(network string) bool {
	_, err := NormalizeNetwork(network)
	return err == nil
}

// GetNetworkConfig returns the defaults for network
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	caip2, err := NormalizeNetwork(network)
	if err != nil {
		return nil, err
	}
	config := NetworkConfigs[caip2]
	return &config, nil
}

// GetAssetInfo resolves a token symbol or mint address on network
func GetAssetInfo(network string, asset string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(asset, config.DefaultAsset.Symbol) || asset == config.DefaultAsset.Address {
		info := config.DefaultAsset
		return &info, nil
	}

	if err := ValidateSolanaAddress(asset); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("unknown asset %s on network %s", asset, config.CAIP2)
}

// ValidateSolanaAddress checks that address is a base58 32-byte public key
func ValidateSolanaAddress(address string) error {
	if address == "" {
		return fmt.Errorf("%s: empty address", ErrInvalidAddress)
	}
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return fmt.Errorf("%s: %s: %w", ErrInvalidAddress, address, err)
	}
	return nil
}

// IsTokenProgram reports whether program is the SPL Token or Token-2022 program
func IsTokenProgram(program solana.PublicKey) bool {
	return program.Equals(solana.TokenProgramID) || program.Equals(solana.Token2022ProgramID)
}
