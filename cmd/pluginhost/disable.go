package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var disableBundle bool

var disableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a plugin or bundle",
	Long: `Disable a plugin. Enabled plugins that depend on it are disabled
first so no active plugin is left with an inactive dependency. With
--bundle, disables every member of a bundle in reverse order.

Examples:
  pluginhost disable memory-core
  pluginhost disable --bundle analysis-suite`,
	Args: cobra.ExactArgs(1),
	RunE: runDisable,
}

func init() {
	disableCmd.Flags().BoolVar(&disableBundle, "bundle", false, "treat the id as a bundle")
	rootCmd.AddCommand(disableCmd)
}

func runDisable(cmd *cobra.Command, args []string) error {
	orchestrator, shutdown, err := newRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer shutdown()

	id := args[0]
	if disableBundle {
		if _, err := orchestrator.DisableBundle(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Bundle %q disabled.\n", id)
		return nil
	}
	if _, err := orchestrator.Disable(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Printf("Plugin %q disabled.\n", id)
	return nil
}
