package cmd

import (
	"fmt"
	"os"

	"github.com/andresmejia3/trafficvision/internal/export"
	"github.com/spf13/cobra"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:         "export <run_id>",
	Short:       "Write a stored run's time series as CSV",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{dbAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()

		run, err := DB.GetRun(ctx, args[0])
		if err != nil {
			return fail("Failed to find run", err, nil)
		}
		records, err := DB.GetRecords(ctx, run.ID)
		if err != nil {
			return fail("Failed to load time series", err, nil)
		}

		if exportOutput == "" {
			if err := export.WriteCSV(os.Stdout, records); err != nil {
				return fail("Failed to write CSV", err, nil)
			}
			return nil
		}
		if err := writeCSVFile(exportOutput, records); err != nil {
			return fail("Failed to write CSV", err, nil)
		}
		fmt.Fprintf(os.Stderr, "📄 %d records written to %s\n", len(records), exportOutput)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "CSV file to write (default: stdout)")
	rootCmd.AddCommand(exportCmd)
}
