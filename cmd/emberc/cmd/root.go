package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version information (set by build flags), mirroring the teacher's
	// cmd/dwscript/cmd/version.go convention.
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "emberc",
	Short: "Introspection CLI for the Ember middle end",
	Long: `emberc drives the Ember middle end in isolation: symbol
resolution, Anvil lowering and verification, and LowIR lowering.

It takes a typed-AST JSON fixture in place of a real front end and
prints whichever intermediate representation or diagnostic was asked
for. It is a developer and test tool, not a compiler driver.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(`{{with .Name}}{{printf "%%s " .}}{{end}}{{printf "version %%s" .Version}}
Commit: %s
Built:  %s
`, GitCommit, BuildDate))
}
