package main

import (
	"fmt"
	"os"

	"github.com/Stygian-Inc/intent-veil-go/pkg/intent"
	"github.com/Stygian-Inc/intent-veil-go/pkg/keys"
	"github.com/Stygian-Inc/intent-veil-go/pkg/prover"
	"github.com/spf13/cobra"
)

var (
	intentFile string
	identity   string
	nonceValue uint64
	outFile    string
)

// readIntent loads a ParsedIntent from a JSON file.
func readIntent(path string) (intent.ParsedIntent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return intent.ParsedIntent{}, fmt.Errorf("failed to read intent: %w", err)
	}
	return intent.Decode(raw)
}

var proveCmd = &cobra.Command{
	Use:   "prove",
	Short: "Prove an intent and write the proof file",
	Long:  `Commit to an intent under an identity and nonce, prove knowledge of the preimage and write the versioned proof envelope.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if intentFile == "" || identity == "" {
			return fmt.Errorf("--intent and --identity are required")
		}
		in, err := readIntent(intentFile)
		if err != nil {
			return err
		}
		encoded, err := in.Encode()
		if err != nil {
			return err
		}

		m, err := keys.LoadOrSetup(cfg.Keys.Dir, logger)
		if err != nil {
			return err
		}
		p := prover.NewProver(m, prover.WithLogger(logger))

		printHeader("Intent Proof")
		printInfo("Action:   %s", in.Action)
		printInfo("Identity: %s", identity)
		printInfo("Nonce:    %d", nonceValue)

		res, pr, err := p.Benchmark(encoded, []byte(identity), nonceValue)
		if err != nil {
			printError(err.Error())
			return err
		}
		if err := pr.WriteFile(outFile); err != nil {
			printError(err.Error())
			return err
		}

		printInfo("Commitment: %s", pr.Commitment.Hex())
		printInfo("Witness %.2f ms, prove %.2f ms", res.WitnessTimeMs, res.ProveTimeMs)
		printSuccess("Wrote " + outFile)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(proveCmd)

	proveCmd.Flags().StringVar(&intentFile, "intent", "", "Path to the intent JSON file")
	proveCmd.Flags().StringVar(&identity, "identity", "", "Identity the intent is bound to")
	proveCmd.Flags().Uint64Var(&nonceValue, "nonce", 1, "Nonce to commit to")
	proveCmd.Flags().StringVar(&outFile, "out", "intent.zkip", "Output path for the proof file")
}
