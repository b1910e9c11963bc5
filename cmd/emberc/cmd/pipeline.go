package cmd

import (
	"fmt"
	"os"

	"github.com/ember-lang/ember/internal/anvil"
	"github.com/ember-lang/ember/internal/lower"
	"github.com/ember-lang/ember/internal/lowir"
	"github.com/ember-lang/ember/internal/resolver"
	"github.com/ember-lang/ember/internal/typectx"
	"github.com/ember-lang/ember/internal/typedast"
)

// pipeline carries the state every subcommand threads a fixture
// through: load JSON, resolve classes, lower to Anvil. Built once per
// invocation and reused by whichever stage the subcommand needs.
type pipeline struct {
	prog  *typedast.Program
	types *typectx.Context
	syms  *resolver.Resolver
	mod   *anvil.Module
}

func loadFixture(path string) (*typedast.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture %s: %w", path, err)
	}
	prog, err := typedast.DecodeProgram(data)
	if err != nil {
		return nil, fmt.Errorf("decoding fixture %s: %w", path, err)
	}
	return prog, nil
}

// runFrontend loads the fixture and resolves its classes (components A
// and B). verify/lowerAnvil/lowerLowIR build on top of this.
func runFrontend(path string) (*pipeline, error) {
	prog, err := loadFixture(path)
	if err != nil {
		return nil, err
	}
	types := typectx.New()
	syms := resolver.New(types)
	if err := syms.ResolveProgram(prog); err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	return &pipeline{prog: prog, types: types, syms: syms}, nil
}

// lowerAnvil runs component D on top of an already-resolved pipeline.
func (p *pipeline) lowerAnvil() error {
	l := lower.New(p.types, p.syms)
	if err := l.LowerProgram(p.prog); err != nil {
		return fmt.Errorf("lowering to Anvil: %w", err)
	}
	p.mod = l.Mod
	return nil
}

// verifyAnvil runs the mandatory verifier (§4.C) over every function in
// the module, aggregating every failure rather than stopping at the
// first, mirroring VerificationError's own "report everything" design.
func (p *pipeline) verifyAnvil() []error {
	v := &anvil.Verifier{Classes: p.syms}
	var errs []error
	for _, fn := range p.mod.FunctionsInOrder() {
		if err := v.Verify(fn); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// lowerLowIR runs the mandatory verifier over the Anvil module, then
// component E on top of it.
func (p *pipeline) lowerLowIR() (*lowir.Module, error) {
	if errs := p.verifyAnvil(); len(errs) > 0 {
		return nil, fmt.Errorf("lowering to LowIR: Anvil verification failed for %d function(s): %v", len(errs), errs[0])
	}
	l := lowir.New(p.types, p.syms)
	m, err := l.LowerModule(p.mod)
	if err != nil {
		return nil, fmt.Errorf("lowering to LowIR: %w", err)
	}
	return m, nil
}
