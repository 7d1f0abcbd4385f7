// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command validator runs one challenge node's control plane: block
// sync, submission handling, the HTTP+JSON-RPC wire surface, and (when
// a broker secret is configured) the validator WebSocket notification
// channel.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "validator",
	Short: "Run a terminal-agent evaluation challenge node",
	Long: `validator runs one challenge instance's control plane: it syncs
chain block height into epochs, accepts miner submissions, serves the
platform HTTP API, and (once a container broker secret is configured)
notifies validators over WebSocket when an agent binary is ready.`,
}

func main() {
	rootCmd.AddCommand(runCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
