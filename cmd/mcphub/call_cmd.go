package main

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mcphub-go/internal/hub"
	"mcphub-go/internal/invoker"
	"mcphub-go/internal/mcperr"
	"mcphub-go/internal/prompt"
)

// invokeFlags are shared by call and resource
type invokeFlags struct {
	listParams  bool
	interactive bool
}

func (f *invokeFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.listParams, "list-params", false, "Print the accepted parameters instead of invoking")
	cmd.Flags().BoolVarP(&f.interactive, "interactive", "i", false, "Prompt for every parameter not given, optional ones included")
}

func newCallCommand() *cobra.Command {
	var flags invokeFlags
	callCmd := &cobra.Command{
		Use:   "call <server> <tool> [name=value ...]",
		Short: "Call a tool on a connected server",
		Long: `Call a tool with parameters given as name=value pairs. Values are converted
according to the tool's input schema; arrays and objects are passed as JSON.
Missing required parameters are asked for when stdin is a terminal.`,
		Example: `  mcphub call weather get_forecast city=Utrecht days=3
  mcphub call weather get_forecast --list-params
  mcphub call github search_issues 'labels=["bug","p1"]'`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseAssignments(args[2:])
			if err != nil {
				return err
			}
			s, err := openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.close()

			rec, err := s.server(args[0])
			if err != nil {
				return err
			}
			c, err := invoker.Resolve(rec, invoker.KindTool, args[1])
			if err != nil {
				return err
			}
			return runCapability(cmd, s, c, values, flags)
		},
	}
	flags.register(callCmd)
	return callCmd
}

// parseAssignments turns name=value arguments into raw parameter values
func parseAssignments(args []string) (map[string]string, error) {
	values := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, mcperr.Runtime(mcperr.CodeInvalidParams,
				fmt.Sprintf("invalid parameter %q, expected name=value", arg), map[string]any{"argument": arg})
		}
		if _, dup := values[name]; dup {
			return nil, mcperr.Runtime(mcperr.CodeInvalidParams,
				fmt.Sprintf("parameter %s given more than once", name), map[string]any{"argument": arg})
		}
		values[name] = value
	}
	return values, nil
}

// runCapability lists, prompts for, validates and invokes one capability and
// prints the result
func runCapability(cmd *cobra.Command, s *session, c invoker.Capability, values map[string]string, flags invokeFlags) error {
	inv := invoker.New(s.client, invoker.Options{Timeout: s.cfg.CallTimeout, Logger: s.logger})

	params, err := inv.Params(c)
	if err != nil {
		return err
	}
	if flags.listParams {
		return s.printTable(cmd, []string{"NAME", "TYPE", "REQUIRED", "DESCRIPTION"}, paramRows(params))
	}

	if missingRequired(params, values) || flags.interactive {
		p := prompt.NewConsolePrompter()
		if p.Interactive() {
			values, err = prompt.Fill(p, params, values, flags.interactive)
			if err != nil {
				return err
			}
		}
	}

	s.logger.Debug("Invoking capability",
		zap.String("server", c.Server), zap.String("kind", string(c.Kind)), zap.String("name", c.Name()))
	res, err := inv.Invoke(cmd.Context(), c, values)
	if err != nil {
		return err
	}
	if err := printResult(cmd, s, res); err != nil {
		return err
	}
	if res.IsError {
		return &exitError{code: ExitCodeToolError, err: errSilent}
	}
	return nil
}

func missingRequired(params []invoker.Param, values map[string]string) bool {
	for _, p := range params {
		if p.Required && strings.TrimSpace(values[p.Name]) == "" {
			return true
		}
	}
	return false
}

func paramRows(params []invoker.Param) [][]string {
	rows := make([][]string, 0, len(params))
	for _, p := range params {
		typ := string(p.Type)
		if p.Type == invoker.TypeEnum {
			typ = strings.Join(p.Enum, "|")
		}
		required := "no"
		if p.Required {
			required = "yes"
		}
		rows = append(rows, []string{p.Name, typ, required, firstLine(p.Description)})
	}
	return rows
}

// printResult prints the text of a result. Tables get a placeholder line per
// image; json and yaml carry the image data.
func printResult(cmd *cobra.Command, s *session, res *invoker.Result) error {
	if !s.isTable() {
		return s.print(cmd, res)
	}
	var b strings.Builder
	b.WriteString(res.Text)
	for _, img := range res.Images {
		size := base64.StdEncoding.DecodedLen(len(img.Data))
		fmt.Fprintf(&b, "\n[image: %s, ~%d bytes]", img.MimeType, size)
	}
	return s.print(cmd, b.String())
}

var _ invoker.Caller = (*hub.Client)(nil)
