package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var installBundle bool

var installCmd = &cobra.Command{
	Use:   "install <id>",
	Short: "Install a plugin or bundle",
	Long: `Install a plugin and its dependency closure, dependencies first.

With --bundle the id names a bundle; its members install in dependency
order, honoring the bundle's atomic or incremental install mode.

Examples:
  pluginhost install memory-short-term
  pluginhost install --bundle analysis-suite`,
	Args: cobra.ExactArgs(1),
	RunE: runInstall,
}

func init() {
	installCmd.Flags().BoolVar(&installBundle, "bundle", false, "treat the id as a bundle")
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	orchestrator, shutdown, err := newRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer shutdown()

	id := args[0]
	if installBundle {
		if _, err := orchestrator.InstallBundle(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Bundle %q installed.\n", id)
		return nil
	}
	if _, err := orchestrator.Install(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Printf("Plugin %q installed.\n", id)
	return nil
}
