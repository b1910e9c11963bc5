package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var dumpStage string

var dumpCmd = &cobra.Command{
	Use:   "dump [fixture.json]",
	Short: "Dump the Anvil or LowIR text form of a typed-AST fixture",
	Long: `dump loads a typed-AST JSON fixture, drives it through symbol
resolution and Anvil lowering, and prints the deterministic textual
listing of either stage.

  emberc dump --stage anvil fixture.json
  emberc dump --stage lowir fixture.json`,
	Args: cobra.ExactArgs(1),
	RunE: runDump,
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().StringVar(&dumpStage, "stage", "anvil", "stage to dump: anvil or lowir")
}

func runDump(_ *cobra.Command, args []string) error {
	p, err := runFrontend(args[0])
	if err != nil {
		return err
	}
	if err := p.lowerAnvil(); err != nil {
		return err
	}

	switch dumpStage {
	case "anvil":
		fmt.Print(p.mod.Dump())
	case "lowir":
		lm, err := p.lowerLowIR()
		if err != nil {
			return err
		}
		fmt.Print(lm.Dump())
	default:
		return fmt.Errorf("unknown stage %q, want anvil or lowir", dumpStage)
	}
	return nil
}
