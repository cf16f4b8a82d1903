// Command engine is the composition root for the automated trading
// engine: it wires config, logging, the broker adapter, market-data
// stack, risk manager, persistence, event bus, and trading engine,
// then exposes two subcommands — "serve" (run the live engine plus
// its HTTP/WS surface) and "backtest" (replay a strategy over history
// and print its performance snapshot as JSON).
package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:   "engine",
		Short: "ironclad-trader automated trading engine",
	}
	root.PersistentFlags().StringVar(&configPath, "env", "", "path to a .env file (default: ./.env)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newBacktestCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
