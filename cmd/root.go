package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	dbPath        string
	filestatePath string
	configPath    string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "simfiles.db", "Path to the similarity index database")
	rootCmd.PersistentFlags().StringVar(&filestatePath, "filestate-db", "simfiles-files.db", "Path to the file-state database")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to an optional .hcl config file overriding the tunable defaults")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(internCmd)
	rootCmd.AddCommand(associateCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(maintainCmd)
	rootCmd.AddCommand(regenerateCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("simfiles version %s (commit %s, built %s)\n", Version, Commit, Date)
	},
}

var rootCmd = &cobra.Command{
	Use:     "simfiles",
	Short:   "simfiles: a persistent perceptual-hash similarity index",
	Version: fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date),
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
