// Package status implements the command that reports delivery states.
package status

import (
	"fmt"

	"fjacquet/smspipe/cmd/root"
	"fjacquet/smspipe/internal/models"

	"github.com/spf13/cobra"
)

var stateFilter string

// Cmd is the status command
var Cmd = &cobra.Command{
	Use:   "status",
	Short: "Show transaction records by delivery state.",
	RunE:  runStatus,
}

func init() {
	Cmd.Flags().StringVar(&stateFilter, "state", "", "List records in one state (PENDING, SYNCING, SYNCED, FAILED)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	app, err := root.Bootstrap()
	if err != nil {
		return err
	}
	defer app.Close()

	if stateFilter == "" {
		counts, err := app.Store.CountByState()
		if err != nil {
			return err
		}
		for _, state := range []models.DeliveryState{
			models.StatePending, models.StateSyncing, models.StateSynced, models.StateFailed,
		} {
			fmt.Printf("%-8s %d\n", state, counts[state])
		}
		return nil
	}

	records, err := app.Store.ListByState(models.DeliveryState(stateFilter))
	if err != nil {
		return err
	}
	for _, rec := range records {
		fmt.Printf("%s  %-9s  %s %s  retries=%d  %s\n",
			rec.ID, rec.Direction, rec.Amount.String(), rec.Currency, rec.RetryCount, rec.LastError)
	}
	fmt.Printf("%d record(s) in state %s\n", len(records), stateFilter)
	return nil
}
