package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	configShowJSON  bool
	configInitForce bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and manage configuration",
	Long: `Inspect and manage .tasksync.yaml (global settings) and the workspace
.hai.config (telemetry settings).`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Config == nil {
			return fmt.Errorf("configuration not loaded")
		}

		var data []byte
		var err error
		if configShowJSON {
			data, err = json.MarshalIndent(Config, "", "  ")
		} else {
			data, err = yaml.Marshal(Config)
		}
		if err != nil {
			return fmt.Errorf("formatting configuration: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# base path: %s\n%s\n", BasePath, data)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a .tasksync.yaml with default settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if ConfigMgr == nil {
			return fmt.Errorf("configuration manager not initialized")
		}
		path, err := ConfigMgr.WriteDefaultConfig(configInitForce)
		if err != nil {
			return fmt.Errorf("writing default config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate .tasksync.yaml and the workspace .hai.config",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if ConfigMgr == nil {
			return fmt.Errorf("configuration manager not initialized")
		}

		global, err := ConfigMgr.LoadGlobalConfig()
		if err != nil {
			return err
		}
		if err := ConfigMgr.ValidateConfig(global); err != nil {
			return err
		}

		hai, err := ConfigMgr.LoadWorkspaceConfig(BasePath)
		if err != nil {
			return err
		}
		if hai != nil {
			if err := ConfigMgr.ValidateConfig(hai); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Configuration is valid.")
		if hai == nil {
			fmt.Fprintln(out, "No .hai.config found; telemetry identity uses the workspace key.")
		}
		return nil
	},
}

func init() {
	configShowCmd.Flags().BoolVar(&configShowJSON, "json", false, "Output as JSON")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configShowCmd, configInitCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
