package main

import (
	"os"

	"github.com/Stygian-Inc/intent-veil-go/pkg/config"
	"github.com/Stygian-Inc/intent-veil-go/pkg/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configPath string

	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "veil",
	Short: "Veil authorizes intents with zero-knowledge proofs",
	Long:  `Prove, verify and execute intents through a commitment-bound Groth16 pipeline with replay protection and an audit trail.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
		} else {
			cfg = config.Default(".")
		}
		level := cfg.Log.Level
		if verbose {
			level = "debug"
		}
		logger = logging.New(logging.Options{Level: level, Format: cfg.Log.Format})
		return nil
	},
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
}
