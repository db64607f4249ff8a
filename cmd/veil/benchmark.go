package main

import (
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/Stygian-Inc/intent-veil-go/pkg/crypto"
	"github.com/Stygian-Inc/intent-veil-go/pkg/keys"
	"github.com/Stygian-Inc/intent-veil-go/pkg/prover"
	"github.com/Stygian-Inc/intent-veil-go/pkg/verifier"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	numRuns     int
	benchRange  string
	benchOutput string
)

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Benchmark proving and verification across intent sizes",
	Long: `Prove and verify random intents of increasing size and report witness,
prove and verify latency with mean, standard deviation, min and max.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sizes, err := parseRange(benchRange)
		if err != nil {
			color.Red("Error: %v", err)
			return err
		}

		m, err := keys.LoadOrSetup(cfg.Keys.Dir, logger)
		if err != nil {
			return err
		}
		p := prover.NewProver(m, prover.WithLogger(logger))
		v := verifier.FromMaterial(m, verifier.WithLogger(logger))

		color.Cyan("\n╔════════════════════════════════════════════════════════════╗")
		color.Cyan("║              Intent Proof Benchmark Suite                  ║")
		color.Cyan("╚════════════════════════════════════════════════════════════╝\n")
		fmt.Printf("  Key id:        %s\n", color.YellowString(m.KeyID.String()))
		fmt.Printf("  Sizes:         %s\n", color.YellowString("%v", sizes))
		fmt.Printf("  Runs/size:     %s\n\n", color.YellowString("%d", numRuns))

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		if benchOutput == "csv" {
			fmt.Println("Bytes,Witness_Avg,Witness_StdDev,Prove_Avg,Prove_StdDev,Prove_Min,Prove_Max,Verify_Avg,Verify_StdDev,Valid")
		} else {
			fmt.Fprintln(w, "Bytes\tWitness (Avg±σ)\tProve (Avg±σ)\tProve (min/max)\tVerify (Avg±σ)\tValid")
			fmt.Fprintln(w, strings.Repeat("─", 90))
		}

		identity := []byte("did:example:bench")
		var nonce uint64
		for i, size := range sizes {
			if benchOutput != "csv" {
				fmt.Fprintf(os.Stderr, "\r%s Processing size %d/%d...", color.BlueString("⏳"), i+1, len(sizes))
			}

			var witness, prove, verify []float64
			valid := 0
			for r := 0; r < numRuns; r++ {
				nonce++
				res, pr, err := p.Benchmark([]byte(randomString(size)), identity, nonce)
				if err != nil {
					color.Red("\nError proving %d bytes, run %d: %v", size, r, err)
					return err
				}
				vr := v.VerifyTimed(pr)
				if vr.Valid {
					valid++
				}
				witness = append(witness, res.WitnessTimeMs)
				prove = append(prove, res.ProveTimeMs)
				verify = append(verify, vr.ProofTimeMs)
			}

			wAvg, _, _, wStd := calcStats(witness)
			pAvg, pMin, pMax, pStd := calcStats(prove)
			vAvg, _, _, vStd := calcStats(verify)
			if benchOutput == "csv" {
				fmt.Printf("%d,%.2f,%.2f,%.2f,%.2f,%.2f,%.2f,%.2f,%.2f,%d\n",
					size, wAvg, wStd, pAvg, pStd, pMin, pMax, vAvg, vStd, valid)
			} else {
				fmt.Fprintf(w, "%d\t%.2f±%.2f ms\t%.2f±%.2f ms\t%.2f/%.2f ms\t%.2f±%.2f ms\t%d/%d\n",
					size, wAvg, wStd, pAvg, pStd, pMin, pMax, vAvg, vStd, valid, numRuns)
			}
			w.Flush()
		}

		if benchOutput != "csv" {
			fmt.Fprintf(os.Stderr, "\r%s Benchmark complete!%s\n", color.GreenString("✓"), strings.Repeat(" ", 30))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(benchmarkCmd)
	benchmarkCmd.Flags().IntVarP(&numRuns, "num-runs", "n", 10, "number of proofs per size")
	benchmarkCmd.Flags().StringVar(&benchRange, "range", fmt.Sprintf("32,%d,64", crypto.MaxIntentBytes),
		"Intent sizes as 'min,max' or 'min,max,step'")
	benchmarkCmd.Flags().StringVar(&benchOutput, "output", "table", "Output format: 'table' or 'csv'")
}

func parseRange(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 {
		return nil, fmt.Errorf("--range must be 'min,max' or 'min,max,step'")
	}
	lo, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("parsing min range: %w", err)
	}
	hi, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("parsing max range: %w", err)
	}
	step := 1
	if len(parts) > 2 {
		if step, err = strconv.Atoi(parts[2]); err != nil {
			return nil, fmt.Errorf("parsing step: %w", err)
		}
	}
	if step <= 0 {
		return nil, fmt.Errorf("step must be positive")
	}
	if lo < 0 || hi > crypto.MaxIntentBytes || lo > hi {
		return nil, fmt.Errorf("sizes must lie within 0..%d", crypto.MaxIntentBytes)
	}
	var out []int
	for n := lo; n <= hi; n += step {
		out = append(out, n)
	}
	return out, nil
}

const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = charset[rand.IntN(len(charset))]
	}
	return string(b)
}

func calcStats(values []float64) (avg, min, max, stddev float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}

	sum := 0.0
	min = values[0]
	max = values[0]
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	avg = sum / float64(len(values))

	if len(values) > 1 {
		var sq float64
		for _, v := range values {
			sq += math.Pow(v-avg, 2)
		}
		stddev = math.Sqrt(sq / float64(len(values)-1))
	}
	return avg, min, max, stddev
}
