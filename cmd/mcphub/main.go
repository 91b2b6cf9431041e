package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mcphub-go/internal/cli/output"
	"mcphub-go/internal/config"
)

var (
	outputFormat string
	jsonOutput   bool
	noColor      bool

	version = "v0.1.0" // This will be injected by -ldflags during build
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return
	}
	code := exitCodeFor(err)
	if !errors.Is(err, errSilent) {
		printError(os.Stderr, err)
	}
	stop()
	os.Exit(code)
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mcphub",
		Short: "Client for a local mcp-hub: manage servers, call tools, browse the marketplace",
		Long: `mcphub attaches to the mcp-hub listening on --port, or starts one when none
answers, and registers as a client for the duration of the command.

` + exitCodesHelp(),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	config.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Shorthand for -o json")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(
		newStatusCommand(),
		newServersCommand(),
		newToolsCommand(),
		newCallCommand(),
		newResourceCommand(),
		newMarketplaceCommand(),
		newInstructionsCommand(),
		newPromptCommand(),
		newWatchCommand(),
	)
	return rootCmd
}

// newFormatter resolves the output flags
func newFormatter() (output.Formatter, error) {
	return output.NewFormatter(output.ResolveFormat(outputFormat, jsonOutput), output.Options{NoColor: noColor})
}

// printError writes err in the selected output format, falling back to plain text
func printError(w io.Writer, err error) {
	se := output.FromError(err)
	formatter, ferr := newFormatter()
	if ferr != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	text, ferr := formatter.FormatError(se)
	if ferr != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	fmt.Fprint(w, text)
}
