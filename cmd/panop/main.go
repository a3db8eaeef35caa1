// Command panop is Panopticon's command-line front end: load a
// binary, disassemble one function (or its whole call graph), and print
// its control-flow graph, optionally with RREIL IR and ANSI color.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/das-labor/panopticon/arch"
	"github.com/das-labor/panopticon/arch/amd64"
	"github.com/das-labor/panopticon/arch/avr"
	"github.com/das-labor/panopticon/function"
	"github.com/das-labor/panopticon/loader"
	"github.com/das-labor/panopticon/program"
	"github.com/das-labor/panopticon/ssa"
)

var log = logrus.WithField("component", "cmd/panop")

func main() {
	os.Exit(run())
}

func run() int {
	var (
		showIL   bool
		useColor bool
		calls    bool
		funcName string
		funcAddr string
	)

	root := &cobra.Command{
		Use:           "panop BINARY",
		Short:         "Disassemble a binary and print its control-flow graph",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return disassemble(args[0], options{il: showIL, color: useColor, calls: calls, fn: funcName, addr: funcAddr})
		},
	}

	root.Flags().BoolVar(&showIL, "il", false, "print each block's RREIL IR")
	root.Flags().BoolVar(&useColor, "color", false, "colorize output")
	root.Flags().BoolVar(&calls, "calls", false, "follow the call graph instead of a single function")
	root.Flags().StringVarP(&funcName, "function", "f", "", "function name or alias to disassemble")
	root.Flags().StringVarP(&funcAddr, "address", "a", "", "function start address (hex) to disassemble")

	logrus.SetFormatter(&logrus.TextFormatter{})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "panop:", err)
		return 1
	}
	return 0
}

type options struct {
	il    bool
	color bool
	calls bool
	fn    string
	addr  string
}

func disassemble(path string, opts options) error {
	if opts.fn != "" && opts.addr != "" {
		return fmt.Errorf("-f and -a are mutually exclusive")
	}

	proj, mach, err := loader.Load(path)
	if err != nil {
		return err
	}
	if len(proj.Code) == 0 {
		return fmt.Errorf("%s: no recognized code", path)
	}
	prog := proj.Code[0]
	log.WithField("machine", mach).WithField("program", prog.Name).Debug("image loaded")

	dec, err := decoderFor(mach)
	if err != nil {
		return err
	}

	entry, err := resolveEntry(prog, opts)
	if err != nil {
		return err
	}

	if opts.calls {
		disp := program.NewDispatcher(dec, proj.Region())
		disp.Log = logrus.StandardLogger()
		if err := disp.Run(context.Background(), prog, []uint64{entry}); err != nil {
			return err
		}
		idx, ok := prog.Graph.FindConcreteByEntry(entry)
		if !ok {
			return fmt.Errorf("0x%x: failed to disassemble", entry)
		}
		printFunction(prog.Graph.Nodes[idx].Function, opts)
		return nil
	}

	b := function.NewBuilder(dec, proj.Region())
	fn := b.Build(fmt.Sprintf("fn_%x", entry), entry)
	ssa.Lift(fn)
	printFunction(fn, opts)
	return nil
}

func decoderFor(mach loader.Machine) (arch.Decoder, error) {
	switch mach {
	case loader.Amd64:
		return amd64.New(amd64.Config{Mode: amd64.Long}), nil
	case loader.Ia32:
		return amd64.New(amd64.Config{Mode: amd64.Protected}), nil
	case loader.Avr:
		return avr.New(avr.Config{Mcu: avr.ATmega88()}), nil
	default:
		return nil, fmt.Errorf("unsupported machine: %v", mach)
	}
}

// resolveEntry picks the address to start disassembling from: -a wins
// outright, -f matches a Todo node's name hint or a Concrete function's
// name or any alias (Symbolic nodes are not searched), and with neither
// flag the Program's first Todo seeded by the loader (its entry point)
// is used.
func resolveEntry(prog *program.Program, opts options) (uint64, error) {
	if opts.addr != "" {
		v, err := strconv.ParseUint(opts.addr, 16, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid -a address %q: %w", opts.addr, err)
		}
		return v, nil
	}
	if opts.fn != "" {
		for _, n := range prog.Graph.Nodes {
			if n.Kind == program.TargetTodo && n.TodoTarget.IsConst() && n.TodoHint == opts.fn {
				return n.TodoTarget.Val, nil
			}
			if n.Kind == program.TargetConcrete && (n.Function.Name == opts.fn || hasAlias(n.Function.Aliases, opts.fn)) {
				return n.Function.Entry, nil
			}
		}
		return 0, fmt.Errorf("no function named %q", opts.fn)
	}
	for _, n := range prog.Graph.Nodes {
		if n.Kind == program.TargetTodo && n.TodoTarget.IsConst() {
			return n.TodoTarget.Val, nil
		}
	}
	return 0, fmt.Errorf("no entry point to disassemble")
}

func hasAlias(aliases []string, name string) bool {
	for _, a := range aliases {
		if a == name {
			return true
		}
	}
	return false
}
