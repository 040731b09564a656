package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:         "label <run_id> <name>",
	Short:       "Assign a name to a stored run (an ID prefix is enough)",
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{dbAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()

		run, err := DB.GetRun(ctx, args[0])
		if err != nil {
			return fail("Failed to find run", err, nil)
		}
		if err := DB.RenameRun(ctx, run.ID, args[1]); err != nil {
			return fail("Failed to label run", err, nil)
		}

		fmt.Printf("✅ Run %s labeled as '%s'\n", run.ID[:8], args[1])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}
