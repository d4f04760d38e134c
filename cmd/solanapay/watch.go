package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	solanapay "github.com/coinbase/solanapay"
)

func newWatchCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the transaction reconciler and print new transfers as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgFile)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reconciler, err := a.newReconciler(printRecords(cmd.OutOrStdout()))
			if err != nil {
				return err
			}

			reconciler.Start(ctx)
			<-ctx.Done()
			reconciler.Stop()
			return nil
		},
	}
}

// printRecords writes each newly observed record as one JSON line
func printRecords(w io.Writer) solanapay.RecordsPublishedHook {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return func(ctx solanapay.RecordsPublishedContext) error {
		mu.Lock()
		defer mu.Unlock()
		for _, record := range ctx.Added {
			if err := enc.Encode(record); err != nil {
				return err
			}
		}
		return nil
	}
}
