package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mediavault/simfiles/api"
)

var regenerateServiceID int64

func init() {
	regenerateCmd.Flags().Int64Var(&regenerateServiceID, "current-service", 0, "Service id whose current-file set defines which phashes survive regeneration")
}

var regenerateCmd = &cobra.Command{
	Use:   "regenerate",
	Short: "Unlink phashes that have no current file, then discard and rebuild the entire tree from every interned phash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, ix, err := openIndex()
		if err != nil {
			return err
		}
		defer db.Close()

		fs, err := openFilestate()
		if err != nil {
			return err
		}
		defer fs.Close()

		serviceID := api.ServiceID(regenerateServiceID)

		isCurrent := func(phashID api.PHashID) (bool, error) {
			fileIDs, err := db.Assoc.FileIDsForPHash(phashID)
			if err != nil {
				return false, err
			}
			if len(fileIDs) == 0 {
				return false, nil
			}
			current, err := fs.FilterCurrentHashIds(serviceID, fileIDs)
			if err != nil {
				return false, err
			}
			return len(current) > 0, nil
		}

		if err := ix.RegenerateTree(isCurrent); err != nil {
			return fmt.Errorf("regenerate tree: %w", err)
		}
		fmt.Println("tree regenerated")
		return nil
	},
}
