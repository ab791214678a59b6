// Package main provides the ipfskg CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ipfskg",
		Short: "ipfskg - content-addressed knowledge graph",
		Long: `ipfskg stores knowledge graphs as content-addressed blocks and
answers hybrid vector and graph queries over them.

Features:
  • CIDv1 blocks (raw, dag-pb, dag-json) on memory or badger storage
  • Optional best-effort Kubo daemon mirroring
  • CAR import and export
  • Graph roots that spill large indexes into chunk blocks
  • GraphRAG search, PageRank, communities, link prediction, entity resolution`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "YAML config file")
	pf.String("data-dir", "", "Block store directory (default: in-memory)")
	pf.String("daemon", "", "Kubo RPC URL (default: local-only)")
	pf.String("log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ipfskg v%s (%s)\n", version, commit)
		},
	})

	rootCmd.AddCommand(newBlockCmd())
	rootCmd.AddCommand(newAddCmd(), newCatCmd())
	rootCmd.AddCommand(newCARCmd())
	rootCmd.AddCommand(newGraphCmd())
	return rootCmd
}
