package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mcphub-go/internal/contracts"
	"mcphub-go/internal/mcperr"
	"mcphub-go/internal/prompt"
)

// statusView is what `mcphub status` prints
type statusView struct {
	Connection    string         `json:"connection" yaml:"connection"`
	Owner         bool           `json:"owner" yaml:"owner"`
	Version       string         `json:"version,omitempty" yaml:"version,omitempty"`
	ActiveClients int            `json:"active_clients" yaml:"active_clients"`
	Port          int            `json:"port" yaml:"port"`
	ConfigPath    string         `json:"config" yaml:"config"`
	Servers       int            `json:"servers" yaml:"servers"`
	Connected     int            `json:"connected" yaml:"connected"`
	Errors        map[string]int `json:"errors,omitempty" yaml:"errors,omitempty"`
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the hub connection and server summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.close()

			snap := s.client.Store().Snapshot()
			view := statusView{
				Connection:    snap.Server.ConnectionState,
				Owner:         snap.Server.IsOwner,
				Version:       snap.Server.Version,
				ActiveClients: snap.Server.ActiveClients,
				Port:          s.client.Port(),
				ConfigPath:    s.client.ConfigPath(),
				Servers:       len(snap.Server.Servers),
			}
			for _, rec := range snap.Server.Servers {
				if rec.Status == contracts.StatusConnected {
					view.Connected++
				}
			}
			for category, errs := range snap.Errors {
				if len(errs) == 0 {
					continue
				}
				if view.Errors == nil {
					view.Errors = map[string]int{}
				}
				view.Errors[string(category)] = len(errs)
			}
			return s.print(cmd, view)
		},
	}
}

func newServersCommand() *cobra.Command {
	serversCmd := &cobra.Command{
		Use:     "servers",
		Aliases: []string{"server"},
		Short:   "List, inspect, start and stop downstream servers",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List servers known to the hub",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.close()
			return s.printTable(cmd, serverHeaders, serverRows(s, s.client.GetServers()))
		},
	}

	infoCmd := &cobra.Command{
		Use:   "info <server>",
		Short: "Fetch one server's full record from the hub",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.close()
			rec, err := s.client.GetServerInfo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return s.print(cmd, rec)
		},
	}

	startCmd := &cobra.Command{
		Use:   "start <server>",
		Short: "Enable and start a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.close()
			if err := s.client.StartMCPServer(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printServerState(cmd, s, args[0])
		},
	}

	var disable, yes bool
	stopCmd := &cobra.Command{
		Use:   "stop <server>",
		Short: "Stop a server, optionally disabling it in the servers file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.close()
			if disable && !yes {
				ok, err := prompt.NewConsolePrompter().Confirm(
					fmt.Sprintf("Disable %s in %s?", args[0], s.client.ConfigPath()))
				if errors.Is(err, prompt.ErrNotInteractive) {
					return mcperr.Runtime(mcperr.CodeInvalidParams,
						"refusing to disable a server without confirmation; pass --yes", nil)
				}
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}
			if err := s.client.StopMCPServer(cmd.Context(), args[0], disable); err != nil {
				return err
			}
			return printServerState(cmd, s, args[0])
		},
	}
	stopCmd.Flags().BoolVar(&disable, "disable", false, "Also mark the server disabled in the servers file")
	stopCmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")

	serversCmd.AddCommand(listCmd, infoCmd, startCmd, stopCmd)
	return serversCmd
}

var serverHeaders = []string{"NAME", "TRANSPORT", "TOOLS", "RESOURCES", "UPTIME", "STATUS"}

func serverRows(s *session, servers []contracts.ServerRecord) [][]string {
	sorted := append([]contracts.ServerRecord(nil), servers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	rows := make([][]string, 0, len(sorted))
	for _, rec := range sorted {
		caps := rec.Capabilities
		rows = append(rows, []string{
			rec.Name,
			rec.TransportType,
			strconv.Itoa(len(caps.Tools)),
			strconv.Itoa(len(caps.Resources) + len(caps.ResourceTemplates)),
			formatUptime(rec.Uptime),
			s.status(string(rec.Status)),
		})
	}
	return rows
}

func printServerState(cmd *cobra.Command, s *session, name string) error {
	rec, ok := s.client.GetServer(name)
	if !ok {
		return s.print(cmd, fmt.Sprintf("%s: done", name))
	}
	return s.printTable(cmd, serverHeaders, serverRows(s, []contracts.ServerRecord{rec}))
}

// formatUptime renders hub uptime seconds as a rounded duration
func formatUptime(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	d := time.Duration(seconds * float64(time.Second))
	switch {
	case d >= time.Hour:
		return d.Round(time.Minute).String()
	default:
		return d.Round(time.Second).String()
	}
}
