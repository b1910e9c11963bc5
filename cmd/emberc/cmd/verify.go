package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [fixture.json]",
	Short: "Run the Anvil verifier over a typed-AST fixture",
	Long: `verify loads a typed-AST JSON fixture, lowers it to Anvil, and
runs the mandatory verifier (register discipline, terminator
well-formedness, try-region structure, suspension placement, and
dispatch target checks) over every function, reporting every problem
found rather than stopping at the first.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(_ *cobra.Command, args []string) error {
	p, err := runFrontend(args[0])
	if err != nil {
		return err
	}
	if err := p.lowerAnvil(); err != nil {
		return err
	}

	errs := p.verifyAnvil()
	if len(errs) == 0 {
		fmt.Printf("%s: verified, %d function(s) OK\n", args[0], len(p.mod.FunctionsInOrder()))
		return nil
	}
	for _, e := range errs {
		fmt.Fprintln(os.Stderr, e)
	}
	return fmt.Errorf("verification failed: %d function(s) with problems", len(errs))
}
