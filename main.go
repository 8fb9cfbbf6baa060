package main

import (
	"os"

	"github.com/pop-os/launcher/cmd"
)

// Build-time version information, set via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := cmd.NewRootCommand(version, commit, date).Execute(); err != nil {
		os.Exit(1)
	}
}
