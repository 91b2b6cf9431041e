package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mcphub-go/internal/contracts"
	"mcphub-go/internal/invoker"
	"mcphub-go/internal/mcperr"
)

func newToolsCommand() *cobra.Command {
	toolsCmd := &cobra.Command{
		Use:     "tools",
		Aliases: []string{"tool"},
		Short:   "List a server's capabilities and enable or disable tools",
	}

	listCmd := &cobra.Command{
		Use:   "list <server>",
		Short: "List tools, resources and resource templates of a connected server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.close()
			rec, err := s.server(args[0])
			if err != nil {
				return err
			}
			return s.printTable(cmd, []string{"KIND", "NAME", "DESCRIPTION", "STATUS"}, capabilityRows(s, rec))
		},
	}

	setTool := func(disabled bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.close()
			server, tool := args[0], args[1]
			rec, err := s.server(server)
			if err != nil {
				return err
			}
			if rec.Status == contracts.StatusConnected {
				if _, ok := rec.FindTool(tool); !ok {
					return mcperr.Runtime(mcperr.CodeUnknownCapability,
						fmt.Sprintf("server %q has no tool %q", server, tool),
						map[string]any{"server": server, "tool": tool})
				}
			}
			if err := s.client.UpdateToolConfig(server, tool, disabled); err != nil {
				return err
			}
			state := "enabled"
			if disabled {
				state = "disabled"
			}
			return s.print(cmd, fmt.Sprintf("%s/%s %s", server, tool, state))
		}
	}

	enableCmd := &cobra.Command{
		Use:   "enable <server> <tool>",
		Short: "Remove a tool from the server's disabled_tools",
		Args:  cobra.ExactArgs(2),
		RunE:  setTool(false),
	}
	disableCmd := &cobra.Command{
		Use:   "disable <server> <tool>",
		Short: "Add a tool to the server's disabled_tools",
		Args:  cobra.ExactArgs(2),
		RunE:  setTool(true),
	}

	toolsCmd.AddCommand(listCmd, enableCmd, disableCmd)
	return toolsCmd
}

// capabilityRows lists every capability of rec. Disabled tools are included
// so they can be enabled again.
func capabilityRows(s *session, rec contracts.ServerRecord) [][]string {
	if rec.Status != contracts.StatusConnected {
		return nil
	}
	var rows [][]string
	for _, tool := range rec.Capabilities.Tools {
		status := "enabled"
		if rec.IsToolDisabled(tool.Name) {
			status = "disabled"
		}
		rows = append(rows, []string{string(invoker.KindTool), tool.Name, firstLine(tool.Description), s.status(status)})
	}
	for _, c := range invoker.List(rec) {
		if c.Kind == invoker.KindTool {
			continue
		}
		rows = append(rows, []string{string(c.Kind), c.Name(), firstLine(c.Description()), ""})
	}
	return rows
}

// firstLine shortens multi-line descriptions for table cells
func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	const limit = 72
	if r := []rune(line); len(r) > limit {
		return string(r[:limit-3]) + "..."
	}
	return line
}
