// Command veil-verify checks a proof file with nothing but a verifying key.
// It is the binary to ship to auditors who must never hold a proving key.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/Stygian-Inc/intent-veil-go/pkg/keys"
	"github.com/Stygian-Inc/intent-veil-go/pkg/logging"
	"github.com/Stygian-Inc/intent-veil-go/pkg/proof"
	"github.com/Stygian-Inc/intent-veil-go/pkg/verifier"
	"github.com/fatih/color"
)

type Options struct {
	FilePath string
	VKPath   string
	Verbose  bool
	TimeDev  bool
}

func main() {
	opts := parseArgs(os.Args[1:])
	if opts.FilePath == "" {
		fmt.Println("Usage: veil-verify <file.zkip> [--vk keys/intent.vk] [-v] [--time-dev]")
		os.Exit(1)
	}

	level := "warn"
	if opts.Verbose {
		level = "debug"
	}
	log := logging.New(logging.Options{Level: level, Format: "console"})

	vk, err := keys.LoadVerifyingKey(opts.VKPath)
	if err != nil {
		fail(opts, err)
	}
	v, err := verifier.NewVerifier(vk, verifier.WithLogger(log))
	if err != nil {
		fail(opts, err)
	}
	p, err := proof.ReadFile(opts.FilePath)
	if err != nil {
		fail(opts, err)
	}

	res := v.VerifyTimed(p)
	if opts.TimeDev {
		fmt.Printf("%.5f\n", res.ProofTimeMs/1000)
		if res.Valid {
			fmt.Println("1")
			os.Exit(0)
		}
		fmt.Println("0")
		os.Exit(1)
	}

	printHeader("Intent Proof Verification")
	fmt.Printf("%s  Key id %s, commitment %s, nonce %d\n", color.BlueString("ℹ"), p.KeyID, p.Commitment.Hex(), p.Nonce)
	if !res.Valid {
		printError("Proof invalid")
		if opts.Verbose {
			fmt.Printf("   Reason: %s\n", res.Error)
		}
		os.Exit(1)
	}
	printSuccess(fmt.Sprintf("Proof valid (%.2f ms)", res.ProofTimeMs))
}

func fail(opts Options, err error) {
	if opts.TimeDev {
		fmt.Println("0")
	} else {
		printError(err.Error())
	}
	os.Exit(1)
}

func parseArgs(args []string) Options {
	opts := Options{VKPath: "keys/" + keys.VerifyingKeyFile}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--vk" && i+1 < len(args) {
			opts.VKPath = strings.TrimSpace(args[i+1])
			i++
		} else if arg == "-v" || arg == "--verbose" {
			opts.Verbose = true
		} else if arg == "--time-dev" {
			opts.TimeDev = true
		} else if !strings.HasPrefix(arg, "-") {
			opts.FilePath = arg
		}
	}
	return opts
}

func printHeader(msg string) {
	cyan := color.New(color.FgCyan).SprintFunc()
	fmt.Printf("\n%s\n%s%s\n%s\n",
		cyan(strings.Repeat("=", 64)),
		strings.Repeat(" ", (64-len(msg))/2), msg,
		cyan(strings.Repeat("=", 64)))
}

func printSuccess(msg string) {
	fmt.Printf("%s  %s\n", color.GreenString("✔"), msg)
}

func printError(msg string) {
	fmt.Printf("%s  [ERROR] %s\n", color.RedString("✖"), msg)
}
