package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mcphub-go/internal/contracts"
)

func newMarketplaceCommand() *cobra.Command {
	var query contracts.MarketplaceQuery
	marketplaceCmd := &cobra.Command{
		Use:     "marketplace",
		Aliases: []string{"mp"},
		Short:   "Browse the hub's server catalog",
		Long: `List catalog entries. When the hub cannot answer, the last cached page for the
same search is shown and marked stale.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.client.FetchMarketplace(cmd.Context(), query)
			if err != nil {
				return err
			}
			if res.Stale {
				s.logger.Warn("Showing cached marketplace, the hub did not answer")
				fmt.Fprintf(cmd.ErrOrStderr(), "Showing cached results from %s\n", res.FetchedAt.Format(time.RFC3339))
			}
			rows := make([][]string, 0, len(res.Items))
			for _, item := range res.Items {
				rows = append(rows, []string{
					item.MCPID,
					item.Name,
					item.Category,
					strconv.Itoa(item.Stars),
					firstLine(item.Description),
				})
			}
			return s.printTable(cmd, []string{"ID", "NAME", "CATEGORY", "STARS", "DESCRIPTION"}, rows)
		},
	}
	marketplaceCmd.Flags().StringVarP(&query.Search, "search", "s", "", "Free-text search")
	marketplaceCmd.Flags().StringVar(&query.Category, "category", "", "Only entries in this category")
	marketplaceCmd.Flags().StringVar(&query.Sort, "sort", "", "Sort order (e.g. stars, newest, name)")

	detailsCmd := &cobra.Command{
		Use:   "details <id>",
		Short: "Show one catalog entry with its readme",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.close()

			res, err := s.client.GetMarketplaceDetails(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !s.isTable() {
				return s.print(cmd, res.Details)
			}
			return s.print(cmd, renderDetails(res.Details, res.Stale))
		},
	}

	marketplaceCmd.AddCommand(detailsCmd)
	return marketplaceCmd
}

func renderDetails(d contracts.MarketplaceDetails, stale bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", d.Name, d.MCPID)
	if d.Author != "" {
		fmt.Fprintf(&b, "Author:   %s\n", d.Author)
	}
	if d.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", d.Category)
	}
	if len(d.Tags) > 0 {
		fmt.Fprintf(&b, "Tags:     %s\n", strings.Join(d.Tags, ", "))
	}
	if d.GithubURL != "" {
		fmt.Fprintf(&b, "GitHub:   %s\n", d.GithubURL)
	}
	fmt.Fprintf(&b, "Stars:    %d\n", d.Stars)
	if stale {
		b.WriteString("(cached)\n")
	}
	if d.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", d.Description)
	}
	if d.ReadmeContent != "" {
		fmt.Fprintf(&b, "\n%s\n", strings.TrimSpace(d.ReadmeContent))
	}
	return b.String()
}
