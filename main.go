// go-peerpull notifies nearby peers of new data and replicates from them.
package main

import (
	"os"

	"github.com/peerpull/go-peerpull/cmd"
	"github.com/peerpull/go-peerpull/node"
)

var (
	version string
	commit  string
)

func main() { // run the app
	cmd.Version = version
	cmd.Commit = commit
	if err := node.GetCommand().Execute(); err != nil {
		// Do not print error as cmd.SilenceErrors is false
		// and the error was already printed
		os.Exit(1)
	}
}
