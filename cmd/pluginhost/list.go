package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/pluginhost/internal/domain/plugin"
	"github.com/felixgeelhaar/pluginhost/internal/domain/registry"
)

var (
	listCategory string
	listStatus   string
	listQuery    string
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered plugins",
	Long: `Display every plugin known to the runtime with its version,
category, status, and declared dependencies.

Examples:
  pluginhost list
  pluginhost list --status enabled
  pluginhost list --category memory --query short`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listCategory, "category", "", "filter by category")
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	listCmd.Flags().StringVarP(&listQuery, "query", "q", "", "match against id, name, and description")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, _ []string) error {
	orchestrator, shutdown, err := newRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer shutdown()

	page := orchestrator.Search(registry.Filters{
		Query:    listQuery,
		Category: listCategory,
		Status:   plugin.Status(listStatus),
		PerPage:  1000,
	})
	if len(page.Entries) == 0 {
		fmt.Println("No plugins found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVERSION\tCATEGORY\tSTATUS\tDEPENDENCIES")
	for _, entry := range page.Entries {
		deps := "-"
		if entry.Plugin != nil && len(entry.Plugin.Dependencies) > 0 {
			deps = strings.Join(entry.Plugin.Dependencies, ", ")
		}
		version := ""
		category := ""
		if entry.Plugin != nil {
			version = entry.Plugin.Version
			category = entry.Plugin.Category
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", entry.ID(), version, category, entry.Status, deps)
	}
	return w.Flush()
}
