package main

import (
	"fmt"
	"path/filepath"

	"github.com/Stygian-Inc/intent-veil-go/pkg/keys"
	"github.com/Stygian-Inc/intent-veil-go/pkg/proof"
	"github.com/Stygian-Inc/intent-veil-go/pkg/verifier"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var timeDev bool

var verifyCmd = &cobra.Command{
	Use:   "verify <file.zkip>",
	Short: "Verify a proof file against the local verifying key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filePath := args[0]

		vk, err := keys.LoadVerifyingKey(filepath.Join(cfg.Keys.Dir, keys.VerifyingKeyFile))
		if err != nil {
			return err
		}
		v, err := verifier.NewVerifier(vk, verifier.WithLogger(logger))
		if err != nil {
			return err
		}

		if !timeDev {
			printHeader("Intent Proof Verification")
			printInfo("Reading: %s", filePath)
		}

		p, err := proof.ReadFile(filePath)
		if err != nil {
			if timeDev {
				fmt.Println("0")
			} else {
				printError(err.Error())
			}
			return err
		}
		res := v.VerifyTimed(p)

		if timeDev {
			fmt.Printf("%.4f\n", res.ProofTimeMs/1000)
			if res.Valid {
				fmt.Println("1")
			} else {
				fmt.Println("0")
			}
		} else {
			printSection("Envelope")
			printInfo("Key id:     %s", p.KeyID)
			printInfo("Commitment: %s", p.Commitment.Hex())
			printInfo("Nonce:      %d", p.Nonce)

			printSection("Groth16")
			if res.Valid {
				printSuccess(fmt.Sprintf("Proof valid (%.2f ms)", res.ProofTimeMs))
				color.New(color.BgBlue, color.FgWhite).Printf("   ALL CHECKS PASSED   \n")
			} else {
				printError("Proof invalid")
				if verbose && res.Error != "" {
					fmt.Printf("   Reason: %s\n", res.Error)
				}
			}
		}

		if !res.Valid {
			return fmt.Errorf("proof rejected")
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&timeDev, "time-dev", false, "output only verification time and status")
	rootCmd.AddCommand(verifyCmd)
}
