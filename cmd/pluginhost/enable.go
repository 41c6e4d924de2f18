package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var enableBundle bool

var enableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a plugin or bundle",
	Long: `Enable a plugin, first enabling any of its dependencies that are
not yet active. With --bundle, enables every member of a bundle in
dependency order.

Examples:
  pluginhost enable memory-short-term
  pluginhost enable --bundle analysis-suite`,
	Args: cobra.ExactArgs(1),
	RunE: runEnable,
}

func init() {
	enableCmd.Flags().BoolVar(&enableBundle, "bundle", false, "treat the id as a bundle")
	rootCmd.AddCommand(enableCmd)
}

func runEnable(cmd *cobra.Command, args []string) error {
	orchestrator, shutdown, err := newRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer shutdown()

	id := args[0]
	if enableBundle {
		if _, err := orchestrator.EnableBundle(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Bundle %q enabled.\n", id)
		return nil
	}
	if _, err := orchestrator.Enable(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Printf("Plugin %q enabled.\n", id)
	return nil
}
