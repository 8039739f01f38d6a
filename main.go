// Engram - tiered memory retrieval and consolidation engine
// Durable user memory with hybrid recall, feedback learning, and decay
package main

import (
	"fmt"
	"os"

	"github.com/engramhq/engram/cmd"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersion(version, commit, date)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
