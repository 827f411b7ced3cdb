// stratum-bfrt is the Stratum agent for Tofino switches driven through
// BfRt. It starts bf_switchd, builds the pipeline and platform objects
// and serves the switch over gRPC.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/sslauro/stratum/bringup"
	"github.com/sslauro/stratum/cmd/stratum-bfrt/cli"
)

func main() {
	var c cli.CLI
	ctx := kong.Parse(&c, cli.KongOptions()...)
	if err := ctx.Run(&c); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(bringup.ExitCode(err))
	}
}
