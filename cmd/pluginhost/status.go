package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/pluginhost/internal/app"
)

var statusCmd = &cobra.Command{
	Use:   "status [id]",
	Short: "Show runtime or plugin status",
	Long: `Without arguments, print the catalog summary and execution
statistics. With a plugin id, print that plugin's status, health,
metrics, and recent sandbox violations.

Examples:
  pluginhost status
  pluginhost status memory-core`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	orchestrator, shutdown, err := newRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer shutdown()

	if len(args) == 1 {
		return printPluginStatus(orchestrator, args[0])
	}
	return printSystemStatus(orchestrator)
}

func printSystemStatus(orchestrator *app.Orchestrator) error {
	system := orchestrator.GetSystemStatus()
	stats := orchestrator.Stats()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Plugins:\t%d total, %d installed, %d enabled\n",
		system.TotalPlugins, system.InstalledPlugins, system.EnabledPlugins)
	fmt.Fprintf(w, "Bundles:\t%d total, %d installed, %d enabled\n",
		system.TotalBundles, system.InstalledBundles, system.EnabledBundles)
	fmt.Fprintf(w, "Executions:\t%d (%d failed)\n", stats.ExecutionCount, stats.ErrorCount)
	if stats.ExecutionCount > 0 {
		fmt.Fprintf(w, "Avg duration:\t%s\n", stats.AverageExecutionTime)
	}
	if stats.Uptime > 0 {
		fmt.Fprintf(w, "Uptime:\t%s\n", stats.Uptime.Round(time.Second))
	}
	return w.Flush()
}

func printPluginStatus(orchestrator *app.Orchestrator, id string) error {
	info, err := orchestrator.Info(id)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", info.Entry.ID())
	fmt.Fprintf(w, "Status:\t%s\n", info.Entry.Status)
	fmt.Fprintf(w, "Loaded:\t%v\n", info.Loaded)
	if info.Loaded {
		fmt.Fprintf(w, "Health:\t%s\n", info.Health.State)
		fmt.Fprintf(w, "Executions:\t%d (%d failed)\n",
			info.Metrics.ExecutionCount, info.Metrics.ErrorCount)
	}
	if len(info.Violations) > 0 {
		fmt.Fprintf(w, "Violations:\t%d\n", len(info.Violations))
		for _, v := range info.Violations {
			fmt.Fprintf(w, "\t%s %s (limit %.0f, observed %.0f)\n",
				v.Kind, v.Action, v.Limit, v.Observed)
		}
	}
	for _, diag := range info.Entry.Errors {
		fmt.Fprintf(w, "Error:\t%s\n", diag.Message)
	}
	return w.Flush()
}
