package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"nearminter/internal/app"
	"nearminter/internal/ledger"
	"nearminter/internal/ui"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent mint receipts",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", ledger.DefaultListLimit, "number of receipts to show")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	store, err := app.OpenLedger(getContext(), appConfig)
	if err != nil {
		return err
	}
	if pg, ok := store.(*ledger.PostgresStore); ok {
		defer pg.Close()
	}

	records, err := store.List(getContext(), historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, ui.FormatWarning("No mints recorded yet."))
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tSTATUS\tTITLE\tTOKEN\tTRANSACTION")
	for _, rec := range records {
		token, tx := rec.TokenID, rec.TransactionHash
		if rec.Status != ledger.StatusSucceeded {
			token, tx = "-", rec.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			rec.CreatedAt.Local().Format("2006-01-02 15:04"), rec.Status, rec.Title, token, tx)
	}
	return tw.Flush()
}
