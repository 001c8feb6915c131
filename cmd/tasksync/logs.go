package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/tasksync/internal/channel"
)

var logsCmd = &cobra.Command{
	Use:   "logs [task-id]",
	Short: "Show the change log of a task",
	Long:  `Shows every applied change that touched a task, newest first.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

func runLogs(cmd *cobra.Command, args []string) error {
	project, err := requireProject(nil)
	if err != nil {
		return err
	}
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}

	httpc := channel.NewHTTPClient(cfg.Client.API, cfg.Client.RequestTimeout)
	entries, err := httpc.TaskLogs(cmd.Context(), project, id)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Printf("No changes recorded for task %d\n", id)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tTIME\tUSER\tOP\tDETAILS")
	for _, e := range entries {
		user := e.User
		if user == "" {
			user = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", e.Version, e.Timestamp.Local().Format(time.DateTime), user, e.Op, truncate(string(e.Details), 60))
	}
	w.Flush()
	return nil
}
