package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var harnessCmd = &cobra.Command{
	Use:   "harness",
	Short: "Inspect configured harnesses",
}

var harnessListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known harnesses and whether their binaries are on PATH",
	RunE:  listHarnesses,
}

func init() {
	harnessCmd.AddCommand(harnessListCmd)
	rootCmd.AddCommand(harnessCmd)
}

func listHarnesses(cmd *cobra.Command, _ []string) error {
	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tAVAILABLE")
	for _, name := range a.registry.List() {
		status := "yes"
		if err := a.registry.Ping(cmd.Context(), name); err != nil {
			status = "no (binary not found)"
		}
		fmt.Fprintf(w, "%s\t%s\n", name, status)
	}
	return w.Flush()
}
