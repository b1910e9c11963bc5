// Command emberc is a developer tool for the middle end (spec.md §1:
// lexer, parser, semantic analyzer, native backend, runtime, and CLI
// are all out of scope for the product). It never lexes or parses; it
// only loads a typed-AST JSON fixture, drives resolution, Anvil
// lowering and verification, and LowIR lowering, and dumps whichever
// stage was asked for.
package main

import (
	"fmt"
	"os"

	"github.com/ember-lang/ember/cmd/emberc/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
