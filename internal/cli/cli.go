package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

var ErrUnknownCommand = errors.New("cli: unknown command")

// Command is one runnable subcommand. Flags is optional; Run receives the
// positional arguments left after flag parsing.
type Command struct {
	Name        string
	Description string
	Flags       *pflag.FlagSet
	Run         func(args []string) error
}

// NewFlagSet builds a flag set wired for Root's own error reporting.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// Root dispatches huskctl subcommands. When no subcommand is named the
// Default command runs, so the bare binary does the useful thing.
type Root struct {
	Name    string
	Summary string
	Default string

	// Err receives help output on dispatch failures. Defaults to stderr.
	Err io.Writer

	commands []*Command
}

func NewRoot(name, summary string) *Root {
	return &Root{Name: name, Summary: summary, Err: os.Stderr}
}

func (r *Root) Register(cmd *Command) {
	r.commands = append(r.commands, cmd)
}

func (r *Root) lookup(name string) *Command {
	for _, cmd := range r.commands {
		if cmd.Name == name {
			return cmd
		}
	}
	return nil
}

// Execute resolves and runs one command. Help printed because of an
// unknown command or a flag error still reports the failure to the
// caller; only an explicit help request succeeds.
func (r *Root) Execute(args []string) error {
	name := r.Default
	rest := args
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name = args[0]
		rest = args[1:]
	}

	if name == "help" || (len(args) > 0 && (args[0] == "--help" || args[0] == "-h")) {
		r.printHelp(r.errWriter())
		return nil
	}

	cmd := r.lookup(name)
	if cmd == nil {
		r.printHelp(r.errWriter())
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}

	if cmd.Flags != nil {
		if err := cmd.Flags.Parse(rest); err != nil {
			if errors.Is(err, pflag.ErrHelp) {
				r.printCommandHelp(r.errWriter(), cmd)
				return nil
			}
			r.printCommandHelp(r.errWriter(), cmd)
			return fmt.Errorf("cli: %s: %w", cmd.Name, err)
		}
		rest = cmd.Flags.Args()
	}
	return cmd.Run(rest)
}

func (r *Root) errWriter() io.Writer {
	if r.Err != nil {
		return r.Err
	}
	return os.Stderr
}

func (r *Root) printHelp(w io.Writer) {
	fmt.Fprintf(w, "%s - %s\n\n", r.Name, r.Summary)
	fmt.Fprintf(w, "Usage: %s [command] [flags]\n\nCommands:\n", r.Name)
	for _, cmd := range r.commands {
		marker := ""
		if cmd.Name == r.Default {
			marker = " (default)"
		}
		fmt.Fprintf(w, "  %-20s %s%s\n", cmd.Name, cmd.Description, marker)
	}
	fmt.Fprintf(w, "\nRun '%s <command> --help' for command flags.\n", r.Name)
}

func (r *Root) printCommandHelp(w io.Writer, cmd *Command) {
	fmt.Fprintf(w, "Usage: %s %s [flags]\n\n%s\n", r.Name, cmd.Name, cmd.Description)
	if cmd.Flags != nil {
		fmt.Fprintf(w, "\nFlags:\n%s", cmd.Flags.FlagUsages())
	}
}
