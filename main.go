// Command simfiles indexes perceptual hashes in a persistent vantage-point
// tree and tracks per-service file state for a content-addressed media
// library.
package main

import "github.com/mediavault/simfiles/cmd"

func main() {
	cmd.Execute()
}
