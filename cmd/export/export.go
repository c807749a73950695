// Package export implements the command that dumps transaction records to
// CSV for manual reconciliation.
package export

import (
	"fmt"
	"os"

	"fjacquet/smspipe/cmd/root"
	"fjacquet/smspipe/internal/models"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"
)

var (
	output      string
	stateFilter string
)

// Cmd is the export command
var Cmd = &cobra.Command{
	Use:   "export",
	Short: "Export transaction records to a CSV file.",
	Long: `Export transaction records to CSV. FAILED records are the usual target:
the verbatim message body travels along so a human can reconcile what the
parsers could not.`,
	RunE: runExport,
}

func init() {
	Cmd.Flags().StringVarP(&output, "output", "o", "", "Output CSV file (required)")
	Cmd.Flags().StringVar(&stateFilter, "state", "", "Only export records in this state")
	_ = Cmd.MarkFlagRequired("output")
}

// exportRow is the CSV shape of one record.
type exportRow struct {
	ID           string `csv:"id"`
	State        string `csv:"state"`
	Direction    string `csv:"direction"`
	Amount       string `csv:"amount"`
	Currency     string `csv:"currency"`
	Counterparty string `csv:"counterparty"`
	Reference    string `csv:"reference"`
	Balance      string `csv:"balance"`
	Confidence   string `csv:"confidence"`
	Parser       string `csv:"parser"`
	Provider     string `csv:"provider"`
	RetryCount   int    `csv:"retry_count"`
	LastError    string `csv:"last_error"`
	RemoteID     string `csv:"remote_id"`
	Sender       string `csv:"sender"`
	ReceivedAt   string `csv:"received_at"`
	Body         string `csv:"body"`
}

func runExport(cmd *cobra.Command, args []string) error {
	app, err := root.Bootstrap()
	if err != nil {
		return err
	}
	defer app.Close()

	var states []models.DeliveryState
	if stateFilter != "" {
		states = append(states, models.DeliveryState(stateFilter))
	}
	records, err := app.Store.ListByState(states...)
	if err != nil {
		return err
	}

	rows := make([]*exportRow, 0, len(records))
	for _, rec := range records {
		row := &exportRow{
			ID:           rec.ID,
			State:        string(rec.State),
			Direction:    string(rec.Direction),
			Amount:       rec.Amount.String(),
			Currency:     rec.Currency,
			Counterparty: rec.Counterparty,
			Reference:    rec.Reference,
			Confidence:   fmt.Sprintf("%.2f", rec.Confidence),
			Parser:       string(rec.Parser),
			Provider:     rec.Provider,
			RetryCount:   rec.RetryCount,
			LastError:    rec.LastError,
			Sender:       rec.Sender,
			ReceivedAt:   rec.ReceivedAt.UTC().Format("2006-01-02 15:04:05"),
			Body:         rec.Body,
		}
		if rec.Balance.Valid {
			row.Balance = rec.Balance.Decimal.String()
		}
		if rec.RemoteID != nil {
			row.RemoteID = *rec.RemoteID
		}
		rows = append(rows, row)
	}

	file, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	if err := gocsv.MarshalFile(&rows, file); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}

	root.Log.WithFields(map[string]interface{}{
		"count": len(rows),
		"file":  output,
	}).Info("Exported transaction records")
	return nil
}
