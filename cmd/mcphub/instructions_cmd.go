package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mcphub-go/internal/hub"
	"mcphub-go/internal/mcperr"
)

func newInstructionsCommand() *cobra.Command {
	instructionsCmd := &cobra.Command{
		Use:   "instructions",
		Short: "Manage per-server custom instructions in the servers file",
	}

	showCmd := &cobra.Command{
		Use:   "show <server>",
		Short: "Print a server's custom instructions",
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
			if rec.Instructions == nil {
				return s.print(cmd, fmt.Sprintf("%s has no custom instructions", rec.Name))
			}
			if !s.isTable() {
				return s.print(cmd, rec.Instructions)
			}
			text := rec.Instructions.Text
			if rec.Instructions.Disabled {
				text += "\n(disabled)"
			}
			return s.print(cmd, text)
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <server> <text>...",
		Short: "Replace a server's custom instructions and enable them",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args[1:], " "))
			if text == "" {
				return mcperr.Runtime(mcperr.CodeInvalidParams, "instruction text is empty", nil)
			}
			return updateInstructions(cmd, args[0], &text, false)
		},
	}

	toggle := func(disabled bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return updateInstructions(cmd, args[0], nil, disabled)
		}
	}
	enableCmd := &cobra.Command{
		Use:   "enable <server>",
		Short: "Include a server's custom instructions in the capability prompt",
		Args:  cobra.ExactArgs(1),
		RunE:  toggle(false),
	}
	disableCmd := &cobra.Command{
		Use:   "disable <server>",
		Short: "Keep a server's custom instructions but leave them out of the prompt",
		Args:  cobra.ExactArgs(1),
		RunE:  toggle(true),
	}

	instructionsCmd.AddCommand(showCmd, setCmd, enableCmd, disableCmd)
	return instructionsCmd
}

func updateInstructions(cmd *cobra.Command, server string, text *string, disabled bool) error {
	s, err := openSession(cmd, false)
	if err != nil {
		return err
	}
	defer s.close()
	if err := s.client.UpdateCustomInstructions(server, text, disabled); err != nil {
		return err
	}
	return s.print(cmd, fmt.Sprintf("Updated custom instructions for %s", server))
}

func newPromptCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prompt",
		Short: "Print the capability summary of connected servers",
		Long: `Print the text a host injects into a model's system prompt: every connected
server with its custom instructions, enabled tools, resources and templates.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.close()
			text := s.client.Store().Snapshot().Server.Prompt
			if text == "" {
				text = hub.RenderPrompt(s.client.GetServers())
			}
			return s.print(cmd, text)
		},
	}
}
