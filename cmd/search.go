package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mediavault/simfiles/api"
)

var searchCmd = &cobra.Command{
	Use:   "search [file-id] [max-distance]",
	Short: "Find files with perceptual hashes similar to file-id's",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, ix, err := openIndex()
		if err != nil {
			return err
		}
		defer db.Close()

		fileID, err := parseFileID(args[0])
		if err != nil {
			return err
		}
		distance, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("parse max distance %q: %w", args[1], err)
		}

		matches, err := ix.Search(fileID, api.Distance(distance))
		if err != nil {
			return fmt.Errorf("search file %d: %w", fileID, err)
		}

		for _, m := range matches {
			fmt.Printf("%d\t%d\n", m.FileID, m.Distance)
		}
		return nil
	},
}
