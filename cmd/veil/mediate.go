package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/Stygian-Inc/intent-veil-go/pkg/gateway"
	"github.com/Stygian-Inc/intent-veil-go/pkg/pipeline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	intentFiles []string
	showHistory bool
)

// startPipeline builds and starts the configured pipeline. The caller must
// Close it.
func startPipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	p, err := pipeline.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	p.Start(ctx)
	return p, nil
}

func closePipeline(p *pipeline.Pipeline) {
	if err := p.Close(); err != nil {
		logger.Error().Err(err).Msg("pipeline shutdown")
	}
}

func printManifest(m gateway.Manifest) {
	switch {
	case m.OK():
		color.Green(m.Text)
	case m.Haptic == gateway.HapticAttention:
		color.Yellow(m.Text)
	default:
		color.Red(m.Text)
	}
	if m.Overlay != nil && verbose {
		raw, err := json.MarshalIndent(m.Overlay, "   ", "  ")
		if err != nil {
			logger.Warn().Err(err).Msg("overlay not printable")
		} else {
			fmt.Printf("   %s\n", raw)
		}
	}
	if !m.OK() && m.Recoverable {
		printInfo("Retry with a fresh intent")
	}
}

var mediateCmd = &cobra.Command{
	Use:   "mediate",
	Short: "Run intents through the full in-process pipeline",
	Long:  `Prove each intent, send it through the command channel to the engine and print the resulting manifest.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(intentFiles) == 0 || identity == "" {
			return fmt.Errorf("--intent and --identity are required")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		p, err := startPipeline(ctx)
		if err != nil {
			printError(err.Error())
			return err
		}
		defer closePipeline(p)

		printHeader("Intent Mediation")
		printInfo("Key id:   %s", p.Keys.KeyID)
		printInfo("Identity: %s", identity)

		for _, path := range intentFiles {
			in, err := readIntent(path)
			if err != nil {
				printError(err.Error())
				return err
			}
			printSection(string(in.Action))
			start := time.Now()
			m := p.Gateway.Mediate(ctx, identity, in)
			printManifest(m)
			printInfo("Took %s", time.Since(start).Round(time.Millisecond))
		}

		if showHistory {
			printSection("History")
			for _, t := range p.Gateway.History() {
				fmt.Printf("%s  %-9s %s\n", t.Timestamp.Format(time.TimeOnly), t.Role, t.Content)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mediateCmd)

	mediateCmd.Flags().StringSliceVar(&intentFiles, "intent", nil, "Intent JSON file, repeatable; run in order")
	mediateCmd.Flags().StringVar(&identity, "identity", "", "Identity the intents are issued under")
	mediateCmd.Flags().BoolVar(&showHistory, "history", false, "print the conversation history afterwards")
}
