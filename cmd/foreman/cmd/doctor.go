package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ljacobsen/foreman/internal/diagnostics"
	"github.com/ljacobsen/foreman/internal/harness"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the environment can run tasks",
	Long: `Doctor checks harness binaries, the data directory, the workspace
root, and host resources, and reports anything that would prevent
tasks from running.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	// Doctor deliberately skips buildApp: it must report a broken
	// environment instead of failing on one.
	registry := harness.NewRegistry()
	for name, hc := range cfg.Harnesses {
		registry.Configure(name, harness.Config{
			Path:    hc.Path,
			Env:     hc.Env,
			Timeout: hc.Timeout,
		})
	}

	results := diagnostics.NewDoctor(cfg, registry).Run(cmd.Context())

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tSTATUS\tDETAIL")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, r.Status, r.Message)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if !diagnostics.Healthy(results) {
		return fmt.Errorf("environment is not ready, fix the failed checks above")
	}
	return nil
}
