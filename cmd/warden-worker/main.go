// Command warden-worker is the sandboxed child process the tool runner
// spawns for every tool call. It reads one request from stdin, executes
// the named plugin, and writes exactly one response to stdout, per the
// parent/child protocol. It opens no database, no network listener, and
// holds no grants: the parent decides whether it is ever invoked.
package main

import (
	"os"

	"github.com/odvcencio/warden/pkg/tools"
	"github.com/odvcencio/warden/pkg/toolworker"
)

func main() {
	if err := toolworker.Run(os.Stdin, os.Stdout, tools.NewPluginRegistry()); err != nil {
		os.Exit(1)
	}
}
