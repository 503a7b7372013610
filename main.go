package main

import (
	"fmt"
	"os"

	"github.com/johandahlberg/arteria-delivery/internal/cmd"
)

// Injected via -ldflags at build time.
var (
	version   = "dev"
	commit    = "HEAD"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
