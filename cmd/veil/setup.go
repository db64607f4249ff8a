package main

import (
	"path/filepath"

	"github.com/Stygian-Inc/intent-veil-go/pkg/keys"
	"github.com/spf13/cobra"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Generate or load the proving and verifying keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		printHeader("Key Setup")
		m, err := keys.LoadOrSetup(cfg.Keys.Dir, logger)
		if err != nil {
			printError(err.Error())
			return err
		}
		printInfo("Proving key:   %s", filepath.Join(cfg.Keys.Dir, keys.ProvingKeyFile))
		printInfo("Verifying key: %s", filepath.Join(cfg.Keys.Dir, keys.VerifyingKeyFile))
		printInfo("Constraints:   %d", m.CCS.GetNbConstraints())
		printSuccess("Key id " + m.KeyID.String())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
