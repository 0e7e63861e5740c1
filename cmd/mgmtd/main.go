// Command mgmtd is the cluster management daemon: it speaks the legacy
// binary wire protocol to filesystem peers and a JSON administrative
// RPC surface to operator tooling, both backed by one embedded SQL
// store.
package main

import (
	"fmt"
	"os"

	"github.com/clusterfs/fleetmgmtd/cmd/mgmtd/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
