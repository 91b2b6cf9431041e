package main

import (
	"github.com/spf13/cobra"

	"mcphub-go/internal/invoker"
	"mcphub-go/internal/mcperr"
)

func newResourceCommand() *cobra.Command {
	var flags invokeFlags
	resourceCmd := &cobra.Command{
		Use:     "resource <server> <uri|template> [name=value ...]",
		Aliases: []string{"read"},
		Short:   "Read a resource or an expanded resource template",
		Long: `Read a resource by URI. When the argument names a resource template, either by
its URI template or its name, the template variables are taken from the
name=value pairs and the expanded URI is read.`,
		Example: `  mcphub resource weather weather://stations
  mcphub resource weather 'weather://city/{city}' city=Utrecht`,
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
			c, err := resolveResource(rec.Name, args[1], func(kind invoker.Kind) (invoker.Capability, error) {
				return invoker.Resolve(rec, kind, args[1])
			})
			if err != nil {
				return err
			}
			return runCapability(cmd, s, c, values, flags)
		},
	}
	flags.register(resourceCmd)
	return resourceCmd
}

// resolveResource tries a plain resource first, then a template
func resolveResource(server, name string, resolve func(invoker.Kind) (invoker.Capability, error)) (invoker.Capability, error) {
	if c, err := resolve(invoker.KindResource); err == nil {
		return c, nil
	}
	c, err := resolve(invoker.KindResourceTemplate)
	if err == nil {
		return c, nil
	}
	if !mcperr.Matches(err, mcperr.CategoryRuntime, mcperr.CodeUnknownCapability) {
		return invoker.Capability{}, err
	}
	return invoker.Capability{}, mcperr.Runtime(mcperr.CodeUnknownCapability,
		"server "+server+" has no resource or resource template "+name,
		map[string]any{"server": server, "name": name})
}
