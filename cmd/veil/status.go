package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print pipeline status",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := startPipeline(cmd.Context())
		if err != nil {
			printError(err.Error())
			return err
		}
		defer closePipeline(p)

		s, err := p.Gateway.PipelineStatus(cmd.Context())
		if err != nil {
			printError(err.Error())
			return err
		}

		printHeader("Pipeline Status")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintf(w, "Key id\t%s\n", p.Keys.KeyID)
		fmt.Fprintf(w, "Queue depth\t%d / %d\n", s.QueueDepth, p.Channel.Capacity())
		fmt.Fprintf(w, "Peers\t%d\n", s.Peers)
		fmt.Fprintf(w, "Chain height\t%d\n", s.ChainHeight)
		fmt.Fprintf(w, "Mempool\t%d\n", s.MempoolSize)
		fmt.Fprintf(w, "Nonce ledger\t%s\n", cfg.Nonce.Driver)
		fmt.Fprintf(w, "Attestations\t%s\n", cfg.Attestation.Driver)
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
