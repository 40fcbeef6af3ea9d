package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ljacobsen/foreman/internal/core"
)

var (
	tasksSession string
	tasksStatus  string
	tasksJSON    bool
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect recorded tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	RunE:  listTasks,
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show one task in full, including progress and result",
	Args:  cobra.ExactArgs(1),
	RunE:  showTask,
}

func init() {
	tasksListCmd.Flags().StringVarP(&tasksSession, "session", "s", "", "filter by session")
	tasksListCmd.Flags().StringVar(&tasksStatus, "status", "", "filter by status")
	tasksShowCmd.Flags().BoolVar(&tasksJSON, "json", false, "print the raw task record as JSON")
	tasksCmd.AddCommand(tasksListCmd, tasksShowCmd)
	rootCmd.AddCommand(tasksCmd)
}

func listTasks(cmd *cobra.Command, _ []string) error {
	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	tasks, err := a.manager.List(cmd.Context(), core.ListFilter{
		Session: core.SessionID(tasksSession),
		Status:  core.Status(tasksStatus),
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSESSION\tSTATUS\tHARNESS\tCREATED\tGOAL")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.SessionID, t.Status, t.Harness,
			t.CreatedAt.Format("2006-01-02 15:04:05"), truncate(t.Goal, 60))
	}
	return w.Flush()
}

func showTask(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.manager.Get(cmd.Context(), core.TaskID(args[0]))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if tasksJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	}

	fmt.Fprintf(out, "id:        %s\n", t.ID)
	fmt.Fprintf(out, "session:   %s\n", t.SessionID)
	fmt.Fprintf(out, "status:    %s\n", t.Status)
	fmt.Fprintf(out, "harness:   %s\n", t.Harness)
	fmt.Fprintf(out, "workspace: %s\n", t.Workspace)
	fmt.Fprintf(out, "goal:      %s\n", t.Goal)
	if t.PendingQuestion != "" {
		fmt.Fprintf(out, "question:  %s\n", t.PendingQuestion)
	}
	if t.Error != "" {
		fmt.Fprintf(out, "error:     %s\n", t.Error)
	}
	if len(t.Progress) > 0 {
		fmt.Fprintln(out, "progress:")
		for _, p := range t.Progress {
			fmt.Fprintf(out, "  %s  %s\n", p.Time.Format("15:04:05"), p.Message)
		}
	}
	if t.Result != nil {
		fmt.Fprintf(out, "summary:   %s\n", t.Result.Summary)
		for _, f := range t.Result.FilesCreated {
			fmt.Fprintf(out, "  created  %s\n", f)
		}
		for _, f := range t.Result.FilesModified {
			fmt.Fprintf(out, "  modified %s\n", f)
		}
		for _, f := range t.Result.FilesDeleted {
			fmt.Fprintf(out, "  deleted  %s\n", f)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
