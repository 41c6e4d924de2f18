package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var runInput string

var runCmd = &cobra.Command{
	Use:   "run <id>",
	Short: "Execute an enabled plugin",
	Long: `Execute a plugin inside its sandbox and print the result as JSON.
The plugin must be installed and enabled. Input is passed as a JSON
object.

Examples:
  pluginhost run memory-core
  pluginhost run memory-core --input '{"key":"greeting","value":"hi"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runInput, "input", "i", "", "JSON input object")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	var input map[string]interface{}
	if runInput != "" {
		if err := json.Unmarshal([]byte(runInput), &input); err != nil {
			return fmt.Errorf("parsing --input: %w", err)
		}
	}

	orchestrator, shutdown, err := newRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer shutdown()

	id := args[0]

	// The plugin may not be active yet in this process; bring it up.
	if _, err := orchestrator.Install(cmd.Context(), id); err != nil {
		return err
	}
	if _, err := orchestrator.Enable(cmd.Context(), id); err != nil {
		return err
	}

	result, err := orchestrator.Execute(cmd.Context(), id, input)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
