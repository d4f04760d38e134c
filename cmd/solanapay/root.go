package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "solanapay",
		Short: "Solana Pay point-of-sale service",
		Long: `solanapay issues Solana Pay transfer requests, watches the ledger for
payments carrying their reference and keeps a reconciled list of incoming
transfers to the merchant account.`,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml or ./config/config.yaml)")

	root.AddCommand(
		newServeCmd(&cfgFile),
		newWatchCmd(&cfgFile),
		newRequestCmd(&cfgFile),
	)
	return root
}
