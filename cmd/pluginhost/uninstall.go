package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	uninstallBundle bool
	uninstallForce  bool
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <id>",
	Short: "Uninstall a plugin or bundle",
	Long: `Uninstall a plugin, invoking its cleanup. Fails when other
installed plugins depend on it unless --force is given, in which case
dependents are disabled first.

Examples:
  pluginhost uninstall memory-short-term
  pluginhost uninstall --force memory-core
  pluginhost uninstall --bundle analysis-suite`,
	Args: cobra.ExactArgs(1),
	RunE: runUninstall,
}

func init() {
	uninstallCmd.Flags().BoolVar(&uninstallBundle, "bundle", false, "treat the id as a bundle")
	uninstallCmd.Flags().BoolVarP(&uninstallForce, "force", "f", false, "disable dependents instead of failing")
	rootCmd.AddCommand(uninstallCmd)
}

func runUninstall(cmd *cobra.Command, args []string) error {
	orchestrator, shutdown, err := newRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer shutdown()

	id := args[0]
	if uninstallBundle {
		if _, err := orchestrator.UninstallBundle(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Bundle %q uninstalled.\n", id)
		return nil
	}
	if _, err := orchestrator.Uninstall(cmd.Context(), id, uninstallForce); err != nil {
		return err
	}
	fmt.Printf("Plugin %q uninstalled.\n", id)
	return nil
}
