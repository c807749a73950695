// Package relay implements the command that re-sends one record to a
// configured webhook destination.
package relay

import (
	"fmt"

	"fjacquet/smspipe/cmd/root"

	"github.com/spf13/cobra"
)

var (
	destName string
	recordID string
)

// Cmd is the relay command
var Cmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay one transaction record to a webhook destination.",
	RunE:  runRelay,
}

func init() {
	Cmd.Flags().StringVarP(&destName, "destination", "d", "", "Destination name from configuration (required)")
	Cmd.Flags().StringVar(&recordID, "id", "", "Transaction record id (required)")
	_ = Cmd.MarkFlagRequired("destination")
	_ = Cmd.MarkFlagRequired("id")
}

func runRelay(cmd *cobra.Command, args []string) error {
	app, err := root.Bootstrap()
	if err != nil {
		return err
	}
	defer app.Close()

	rec, err := app.Store.Get(recordID)
	if err != nil {
		return err
	}

	for _, dest := range app.Pipe.Destinations() {
		if dest.Name != destName {
			continue
		}
		result := app.Pipe.Relay(cmd.Context(), dest, rec)
		switch {
		case result.Err != nil:
			return fmt.Errorf("relay to %s failed: %w", dest.Name, result.Err)
		case result.Skipped:
			root.Log.WithField("destination", dest.Name).Info("Destination inactive, nothing sent")
		default:
			root.Log.WithFields(map[string]interface{}{
				"destination": dest.Name,
				"status":      result.StatusCode,
				"latency_ms":  result.Latency.Milliseconds(),
			}).Info("Relay finished")
		}
		return nil
	}
	return fmt.Errorf("no webhook destination named %s in configuration", destName)
}
