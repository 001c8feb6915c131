package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fentz26/tasksync/internal/channel"
	"github.com/fentz26/tasksync/internal/models"
	"github.com/fentz26/tasksync/internal/session"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Edit a project's tasks from the command line",
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a task, or a subtask with --parent",
	Args:  cobra.NoArgs,
	RunE:  runTaskAdd,
}

var taskSetCmd = &cobra.Command{
	Use:   "set [task-id] [field] [value]",
	Short: "Set one field of a task",
	Long: `Set one field of a task. VALUE is read as JSON when it parses as JSON
and as a plain string otherwise, so 40, true and ["ab1234"] work unquoted.`,
	Args: cobra.ExactArgs(3),
	RunE: runTaskSet,
}

var taskMoveCmd = &cobra.Command{
	Use:   "move [task-id] [not-started|in-progress|done]",
	Short: "Move a card to a board column",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskMove,
}

var taskRemoveCmd = &cobra.Command{
	Use:     "rm [task-id]",
	Aliases: []string{"delete"},
	Short:   "Delete a task and its subtasks",
	Args:    cobra.ExactArgs(1),
	RunE:    runTaskRemove,
}

var taskReorderCmd = &cobra.Command{
	Use:   "reorder [task-id] [up|down]",
	Short: "Swap a task with its previous or next sibling",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskReorder,
}

var (
	taskName   string
	taskParent int
	taskAssign []string
	taskStart  string
	taskEnd    string
)

func init() {
	taskCmd.AddCommand(taskListCmd, taskAddCmd, taskSetCmd, taskMoveCmd, taskRemoveCmd, taskReorderCmd)

	taskAddCmd.Flags().StringVar(&taskName, "name", "", "Task name (required)")
	taskAddCmd.Flags().IntVar(&taskParent, "parent", 0, "Parent task id")
	taskAddCmd.Flags().StringSliceVar(&taskAssign, "assign", nil, "Assignee user ids")
	taskAddCmd.Flags().StringVar(&taskStart, "start", "", "Start date (YYYY-MM-DD)")
	taskAddCmd.Flags().StringVar(&taskEnd, "end", "", "End date (YYYY-MM-DD)")
	taskAddCmd.MarkFlagRequired("name")
}

// withSession opens the configured project over HTTP, runs fn and waits
// until every patch fn produced has been delivered.
func withSession(fn func(s *session.Session) error) error {
	project, err := requireProject(nil)
	if err != nil {
		return err
	}
	if cfg.Client.User == "" {
		return fmt.Errorf("no user set: pass --user or set client.user")
	}

	var (
		mu     sync.Mutex
		failed []error
	)
	httpc := channel.NewHTTPClient(cfg.Client.API, cfg.Client.RequestTimeout)
	logger := newLogger(os.Stderr)
	ch := channel.New(nil, httpc, channel.Options{
		User:       cfg.Client.User,
		AckTimeout: cfg.Client.AckTimeout,
		Logger:     logger,
	})
	sess := session.New(session.Options{
		User:    cfg.Client.User,
		Channel: ch,
		Loader:  httpc,
		Logger:  logger,
		OnNotice: func(err error) {
			mu.Lock()
			defer mu.Unlock()
			failed = append(failed, err)
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.RequestTimeout)
	defer cancel()
	if err := sess.Open(ctx, project); err != nil {
		_ = sess.Close(ctx)
		return err
	}
	runErr := fn(sess)
	closeErr := sess.Close(ctx)

	mu.Lock()
	defer mu.Unlock()
	return errors.Join(append([]error{runErr, closeErr}, failed...)...)
}

func parseTaskID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	project, err := requireProject(nil)
	if err != nil {
		return err
	}
	httpc := channel.NewHTTPClient(cfg.Client.API, cfg.Client.RequestTimeout)
	snap, err := httpc.LoadProject(cmd.Context(), project)
	if err != nil {
		return err
	}

	rows := snap.Rows()
	if len(rows) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\t%\tASSIGNED\tEND")
	for _, r := range rows {
		t := r.Task
		name := strings.Repeat("  ", r.Indent) + truncate(t.Name, 40)
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n", t.ID, name, t.Status.Normalize(), t.PercentComplete, strings.Join(t.AssignedTo, ","), t.EndDate)
	}
	w.Flush()
	fmt.Printf("\n%s at version %d\n", snap.Project, snap.Version)
	return nil
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	task := &models.Task{
		Name:       taskName,
		AssignedTo: models.AssigneeSet(taskAssign),
		StartDate:  taskStart,
		EndDate:    taskEnd,
	}
	return withSession(func(s *session.Session) error {
		var (
			id  int
			err error
		)
		if taskParent > 0 {
			id, err = s.Engine().AddSubtask(taskParent, task)
		} else {
			id, err = s.Engine().AddTask(task)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Created task %d\n", id)
		return nil
	})
}

func runTaskSet(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	field := args[1]
	var value any = args[2]
	if json.Valid([]byte(args[2])) {
		value = json.RawMessage(args[2])
	}
	return withSession(func(s *session.Session) error {
		if err := s.SetField(id, field, value); err != nil {
			return err
		}
		fmt.Printf("Set %s of task %d\n", field, id)
		return nil
	})
}

func runTaskMove(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	col, ok := models.ParseColumn(args[1])
	if !ok {
		return fmt.Errorf("unknown column %q (want not-started, in-progress or done)", args[1])
	}
	return withSession(func(s *session.Session) error {
		entry, err := s.Move(id, col)
		if err != nil {
			return err
		}
		if entry == nil {
			fmt.Printf("Task %d is already in %s\n", id, col.Title())
			return nil
		}
		fmt.Println(entry.String())
		return nil
	})
}

func runTaskRemove(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	return withSession(func(s *session.Session) error {
		if err := s.Engine().DeleteTask(id); err != nil {
			return err
		}
		fmt.Printf("Deleted task %d\n", id)
		return nil
	})
}

func runTaskReorder(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	direction := args[1]
	if direction != "up" && direction != "down" {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}
	return withSession(func(s *session.Session) error {
		if err := s.Engine().ReorderSubtask(id, direction); err != nil {
			return err
		}
		fmt.Printf("Moved task %d %s\n", id, direction)
		return nil
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
