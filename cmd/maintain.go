package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var maintainDeadline time.Duration

func init() {
	maintainCmd.Flags().DurationVar(&maintainDeadline, "deadline", 30*time.Second, "Stop draining the maintenance queue after this long")
}

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Drain the branch-regeneration queue, largest branch first, until empty or the deadline passes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, ix, err := openIndex()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), maintainDeadline)
		defer cancel()

		if err := ix.MaintainTree(ctx); err != nil {
			return fmt.Errorf("maintain tree: %w", err)
		}

		due, err := ix.MaintenanceDue()
		if err != nil {
			return fmt.Errorf("check maintenance due: %w", err)
		}
		fmt.Printf("maintenance due: %v\n", due)
		return nil
	},
}
