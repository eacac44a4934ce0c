// ABOUTME: Version command showing build information
// ABOUTME: Values are injected at build time by goreleaser
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// VersionInfo holds version metadata set at build time
type VersionInfo struct {
	Version string
	Commit  string
	Date    string
}

var versionInfo = VersionInfo{
	Version: "dev",
	Commit:  "none",
	Date:    "unknown",
}

// SetVersion sets the version information from main
func SetVersion(version, commit, date string) {
	versionInfo = VersionInfo{Version: version, Commit: commit, Date: date}
}

// NewVersionCmd creates the version command
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Tome %s\n", versionInfo.Version)
			if verbose {
				fmt.Printf("  commit: %s\n", versionInfo.Commit)
				fmt.Printf("  built:  %s\n", versionInfo.Date)
			}
		},
	}
}
