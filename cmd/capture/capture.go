// Package capture implements the command that feeds one inbound SMS
// through the pipeline.
package capture

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"fjacquet/smspipe/cmd/root"
	"fjacquet/smspipe/internal/models"

	"github.com/spf13/cobra"
)

var (
	sender  string
	body    string
	slot    int
	syncNow bool
)

// Cmd is the capture command
var Cmd = &cobra.Command{
	Use:   "capture",
	Short: "Classify one SMS and enqueue it as a transaction record.",
	Long: `Classify an inbound SMS notification and, when it is a financial
notification from a configured provider, durably enqueue it for sync.
The message body is read from --body or, when omitted, from stdin.`,
	RunE: runCapture,
}

func init() {
	Cmd.Flags().StringVarP(&sender, "sender", "s", "", "Originating sender id (required)")
	Cmd.Flags().StringVarP(&body, "body", "b", "", "Message body (defaults to stdin)")
	Cmd.Flags().IntVar(&slot, "slot", 0, "SIM slot the message arrived on")
	Cmd.Flags().BoolVar(&syncNow, "sync", false, "Trigger a sync invocation after capture")
	_ = Cmd.MarkFlagRequired("sender")
}

func runCapture(cmd *cobra.Command, args []string) error {
	if body == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read message body from stdin: %w", err)
		}
		body = strings.TrimSpace(string(data))
	}
	if body == "" {
		return fmt.Errorf("message body is empty")
	}

	app, err := root.Bootstrap()
	if err != nil {
		return err
	}
	defer app.Close()

	raw := models.RawMessage{
		Sender:     sender,
		Body:       body,
		ReceivedAt: time.Now(),
		Slot:       slot,
	}

	ctx := cmd.Context()
	rec, ok, err := app.Pipe.Capture(ctx, raw)
	if err != nil {
		return err
	}
	if !ok {
		root.Log.WithField("sender", sender).Info("Message is not a financial notification, nothing stored")
		return nil
	}

	root.Log.WithFields(map[string]interface{}{
		"id":         rec.ID,
		"direction":  rec.Direction,
		"amount":     rec.Amount.String(),
		"currency":   rec.Currency,
		"confidence": rec.Confidence,
		"state":      rec.State,
	}).Info("Transaction record captured")

	if syncNow {
		outcome, err := app.Pipe.RunSyncOnce(ctx)
		if err != nil {
			return err
		}
		root.Log.WithField("outcome", outcome.String()).Info("On-demand sync finished")
	}
	return nil
}
