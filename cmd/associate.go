package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mediavault/simfiles/api"
)

var internCmd = &cobra.Command{
	Use:   "intern [phash-hex]...",
	Short: "Intern raw perceptual hashes, adding a leaf to the tree for each new one",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, ix, err := openIndex()
		if err != nil {
			return err
		}
		defer db.Close()

		for _, arg := range args {
			phash, err := parsePHash(arg)
			if err != nil {
				return err
			}
			id, err := ix.InternPHash(phash)
			if err != nil {
				return fmt.Errorf("intern %s: %w", arg, err)
			}
			fmt.Printf("%s -> phash_id %d\n", arg, id)
		}
		return nil
	},
}

var associateCmd = &cobra.Command{
	Use:   "associate [file-id] [phash-hex]...",
	Short: "Associate a file id with one or more perceptual hashes",
	Args:  cobra.MinimumNArgs(2),
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

		phashes := make([]api.PHash, 0, len(args)-1)
		for _, arg := range args[1:] {
			phash, err := parsePHash(arg)
			if err != nil {
				return err
			}
			phashes = append(phashes, phash)
		}

		ids, err := ix.AssociatePHashes(fileID, phashes)
		if err != nil {
			return fmt.Errorf("associate file %d: %w", fileID, err)
		}
		fmt.Printf("file %d now linked to %d phash(es)\n", fileID, len(ids))
		return nil
	},
}

func parsePHash(hex string) (api.PHash, error) {
	v, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse phash %q: %w", hex, err)
	}
	return api.PHash(v), nil
}

func parseFileID(s string) (api.FileID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse file id %q: %w", s, err)
	}
	return api.FileID(v), nil
}
