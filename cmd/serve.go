package cmd

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/mediavault/simfiles/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the similarity index as MCP tools over stdio, for an agent to call directly",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, ix, err := openIndex()
		if err != nil {
			return err
		}
		defer db.Close()

		s := server.NewMCPServer("simfiles", Version)

		s.AddTool(
			mcp.NewTool("search_similar",
				mcp.WithDescription("Find files whose perceptual hashes are within a Hamming distance of file_id's"),
				mcp.WithNumber("file_id", mcp.Required(), mcp.Description("File id to search around")),
				mcp.WithNumber("max_distance", mcp.Description("Maximum Hamming distance, default 8")),
			),
			func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				fileID := api.FileID(req.GetFloat("file_id", 0))
				cfg, err := loadConfig()
				if err != nil {
					return mcp.NewToolResultError(err.Error()), nil
				}
				distance := api.Distance(req.GetFloat("max_distance", float64(cfg.DefaultSearchDistance)))

				matches, err := ix.Search(fileID, distance)
				if err != nil {
					return mcp.NewToolResultError(err.Error()), nil
				}

				text := fmt.Sprintf("%d match(es) within distance %d of file %d:\n", len(matches), distance, fileID)
				for _, m := range matches {
					text += fmt.Sprintf("  file %d (distance %d)\n", m.FileID, m.Distance)
				}
				return mcp.NewToolResultText(text), nil
			},
		)

		s.AddTool(
			mcp.NewTool("associate_phashes",
				mcp.WithDescription("Associate a file id with one or more perceptual hashes, interning any that are new"),
				mcp.WithNumber("file_id", mcp.Required()),
				mcp.WithArray("phashes_hex", mcp.Required(), mcp.Description("Perceptual hashes as hex strings")),
			),
			func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				fileID := api.FileID(req.GetFloat("file_id", 0))
				hexValues := req.GetStringSlice("phashes_hex", nil)

				phashes := make([]api.PHash, 0, len(hexValues))
				for _, hex := range hexValues {
					p, err := parsePHash(hex)
					if err != nil {
						return mcp.NewToolResultError(err.Error()), nil
					}
					phashes = append(phashes, p)
				}

				ids, err := ix.AssociatePHashes(fileID, phashes)
				if err != nil {
					return mcp.NewToolResultError(err.Error()), nil
				}
				return mcp.NewToolResultText(fmt.Sprintf("file %d now linked to %d phash(es)", fileID, len(ids))), nil
			},
		)

		s.AddTool(
			mcp.NewTool("maintenance_status",
				mcp.WithDescription("Report the similarity index's maintenance backlog: a histogram of searched_distance values and whether maintenance is due"),
			),
			func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				hist, err := ix.MaintenanceStatus()
				if err != nil {
					return mcp.NewToolResultError(err.Error()), nil
				}
				due, err := ix.MaintenanceDue()
				if err != nil {
					return mcp.NewToolResultError(err.Error()), nil
				}

				text := fmt.Sprintf("maintenance due: %v\n", due)
				for distance, count := range hist {
					if distance < 0 {
						text += fmt.Sprintf("  never searched: %d\n", count)
						continue
					}
					text += fmt.Sprintf("  searched at distance %d: %d\n", distance, count)
				}
				return mcp.NewToolResultText(text), nil
			},
		)

		return server.ServeStdio(s)
	},
}
