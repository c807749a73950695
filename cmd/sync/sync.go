// Package sync implements the command that runs one sync invocation.
package sync

import (
	"fmt"

	"fjacquet/smspipe/cmd/root"
	"fjacquet/smspipe/internal/syncer"

	"github.com/spf13/cobra"
)

// Cmd is the sync command
var Cmd = &cobra.Command{
	Use:   "sync",
	Short: "Push pending transaction records to the remote backend.",
	Long: `Run one sync invocation: select pending records, push them to the
configured endpoint and apply the delivery state machine. The external
scheduler (cron, systemd timer, job runner) decides when this runs; the
command itself is idempotent.`,
	RunE: runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	app, err := root.Bootstrap()
	if err != nil {
		return err
	}
	defer app.Close()

	if app.Cfg.Sync.Endpoint == "" {
		return fmt.Errorf("sync.endpoint is not configured")
	}

	outcome, err := app.Pipe.RunSyncOnce(cmd.Context())
	if err != nil {
		return err
	}

	root.Log.WithField("outcome", outcome.String()).Info("Sync invocation finished")
	if outcome == syncer.OutcomeFailure {
		return fmt.Errorf("all sync attempts exhausted")
	}
	return nil
}
