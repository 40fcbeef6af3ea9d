package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ljacobsen/foreman/internal/config"
)

var initForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage foreman configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default .foreman.yaml in the current directory",
	// Skip config loading: init must work even when the existing config
	// file is broken.
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error { return nil },
	RunE:              initConfigFile,
}

func init() {
	configInitCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing config file")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func initConfigFile(cmd *cobra.Command, _ []string) error {
	const path = ".foreman.yaml"
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := config.Default().WriteFile(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}
