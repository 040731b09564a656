package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:         "list",
	Short:       "List stored video runs",
	Annotations: map[string]string{dbAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		runs, err := DB.ListRuns(cmd.Context())
		if err != nil {
			return fail("Failed to list runs", err, nil)
		}

		if len(runs) == 0 {
			fmt.Println("No runs found in database.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tVIDEO\tFRAMES\tAVG VEHICLES\tMAX CONGESTION\tCREATED")
		fmt.Fprintln(w, "--\t----\t-----\t------\t------------\t--------------\t-------")
		for _, r := range runs {
			name := r.Name
			if name == "" {
				name = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%.1f\t%.1f\t%s\n",
				r.ID[:8], name, filepath.Base(r.Source), r.FramesSampled, r.FramesRead,
				r.AvgTotal, r.MaxCongestion, r.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
