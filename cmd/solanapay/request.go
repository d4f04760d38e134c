package main

import (
	"encoding/json"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	solanapay "github.com/coinbase/solanapay"
	"github.com/coinbase/solanapay/mechanisms/svm"
	"github.com/coinbase/solanapay/pkg/config"
)

type requestFlags struct {
	recipient    string
	splToken     string
	amount       string
	references   []string
	newReference bool
	label        string
	message      string
	memo         string
	decimals     int
}

func newRequestCmd(cfgFile *string) *cobra.Command {
	var f requestFlags

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Encode a Solana Pay transfer request URL",
		Long: `Encode a Solana Pay transfer request URL. Recipient, token, label and
message default to the merchant section of the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildRequest(*cfgFile, f)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), req.URL())
			return nil
		},
	}

	cmd.Flags().StringVar(&f.recipient, "recipient", "", "recipient wallet address")
	cmd.Flags().StringVar(&f.splToken, "spl-token", "", "SPL token mint address or known symbol (USDC)")
	cmd.Flags().StringVar(&f.amount, "amount", "", "amount in token units, e.g. 1.25")
	cmd.Flags().StringArrayVar(&f.references, "reference", nil, "reference public key (repeatable)")
	cmd.Flags().BoolVar(&f.newReference, "new-reference", false, "append a freshly generated reference")
	cmd.Flags().StringVar(&f.label, "label", "", "merchant label")
	cmd.Flags().StringVar(&f.message, "message", "", "message shown to the payer")
	cmd.Flags().StringVar(&f.memo, "memo", "", "memo recorded on chain")
	cmd.Flags().IntVar(&f.decimals, "decimals", -1, "token decimals used to validate --amount (default 9 for SOL, 6 for tokens)")

	cmd.AddCommand(newParseCmd())
	return cmd
}

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <url>",
		Short: "Decode a Solana Pay transfer request URL into JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := solanapay.ParseTransferRequestURL(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(req)
		},
	}
}

func buildRequest(cfgFile string, f requestFlags) (*solanapay.TransferRequest, error) {
	merchant := config.MerchantConfig{
		Recipient: f.recipient,
		SPLToken:  f.splToken,
		Label:     f.label,
		Message:   f.message,
	}
	network := svm.SolanaMainnetCAIP2

	if f.recipient == "" {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
		network = cfg.Solana.Network
		merchant.Recipient = cfg.Merchant.Recipient
		if merchant.SPLToken == "" {
			merchant.SPLToken = cfg.Merchant.SPLToken
		}
		if merchant.Label == "" {
			merchant.Label = cfg.Merchant.Label
		}
		if merchant.Message == "" {
			merchant.Message = cfg.Merchant.Message
		}
	}

	resolved, err := (&config.Config{
		Merchant: merchant,
		Solana:   config.SolanaConfig{Network: network},
	}).MerchantConfig()
	if err != nil {
		return nil, err
	}

	req := &solanapay.TransferRequest{
		Recipient: resolved.Recipient,
		SPLToken:  resolved.SPLToken,
		Label:     resolved.Label,
		Message:   resolved.Message,
		Memo:      f.memo,
	}

	if f.amount != "" {
		amount, err := decimal.NewFromString(f.amount)
		if err != nil {
			return nil, fmt.Errorf("invalid --amount: %w", err)
		}
		req.Amount = &amount
	}

	for _, s := range f.references {
		ref, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("invalid --reference %q: %w", s, err)
		}
		req.References = append(req.References, ref)
	}
	if f.newReference {
		ref, err := solanapay.NewRandomReference()
		if err != nil {
			return nil, err
		}
		req.References = append(req.References, ref)
	}

	decimals := f.decimals
	if decimals < 0 {
		decimals = solanapay.SOLDecimals
		if req.SPLToken != nil {
			decimals = svm.DefaultDecimals
		}
	}
	if err := req.Validate(uint8(decimals)); err != nil {
		return nil, err
	}
	return req, nil
}
