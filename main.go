package main

import (
	"fmt"
	"os"

	"github.com/flanksource/code-ledger/cmd"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersionInfo(func() (string, string, string) {
		return version, commit, date
	})

	if len(os.Args) > 1 && os.Args[1] == "-version" {
		fmt.Printf("code-ledger version %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}
	cmd.Execute()
}
