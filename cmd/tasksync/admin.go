package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/tasksync/internal/channel"
	"github.com/fentz26/tasksync/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check that the relay is up",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		httpc := channel.NewHTTPClient(cfg.Client.API, cfg.Client.RequestTimeout)
		health, err := httpc.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("relay at %s: %w", cfg.Client.API, err)
		}
		fmt.Printf("Relay:   %s\n", cfg.Client.API)
		fmt.Printf("Version: %s\n", health.Version)
		fmt.Printf("DB:      %s\n", health.DB)
		fmt.Printf("Time:    %s\n", health.Time)
		return nil
	},
}

// The commands below open the relay database directly and are meant for
// the machine running `tasksync serve`.

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List projects stored in the relay database",
	Args:  cobra.NoArgs,
	RunE:  runProjects,
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Inspect and restore project backups",
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a project's backups, newest first",
	Args:  cobra.NoArgs,
	RunE:  runBackupList,
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore [backup-id]",
	Short: "Replace a project with one of its backups (stop the relay first)",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupRestore,
}

func init() {
	backupCmd.AddCommand(backupListCmd, backupRestoreCmd)
}

func openRelayStore() (*store.Store, error) {
	if _, err := os.Stat(cfg.Server.DB); err != nil {
		return nil, fmt.Errorf("relay database %s: %w", cfg.Server.DB, err)
	}
	return store.New(cfg.Server.DB)
}

func runProjects(cmd *cobra.Command, args []string) error {
	st, err := openRelayStore()
	if err != nil {
		return err
	}
	defer st.Close()

	names, err := st.ListProjects()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No projects found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT\tVERSION\tTASKS")
	for _, name := range names {
		snap, err := st.LoadProject(name)
		if err != nil || snap == nil {
			fmt.Fprintf(w, "%s\t?\t?\n", name)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%d\n", name, snap.Version, len(snap.Rows()))
	}
	w.Flush()
	return nil
}

func runBackupList(cmd *cobra.Command, args []string) error {
	project, err := requireProject(nil)
	if err != nil {
		return err
	}
	st, err := openRelayStore()
	if err != nil {
		return err
	}
	defer st.Close()

	backups, err := st.ListBackups(project)
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		fmt.Printf("No backups for %s\n", project)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVERSION\tCREATED")
	for _, b := range backups {
		fmt.Fprintf(w, "%s\t%d\t%s\n", b.ID, b.Version, b.CreatedAt.Local().Format(time.DateTime))
	}
	w.Flush()
	return nil
}

// runBackupRestore writes the backup's tree as the project's newest version,
// so open boards see the relay ahead of them on their next version check and
// reload.
func runBackupRestore(cmd *cobra.Command, args []string) error {
	st, err := openRelayStore()
	if err != nil {
		return err
	}
	defer st.Close()

	snap, err := st.LoadBackup(args[0])
	if err != nil {
		return err
	}
	if snap == nil {
		return fmt.Errorf("backup %s not found", args[0])
	}
	current, err := st.LoadProject(snap.Project)
	if err != nil {
		return err
	}
	from := snap.Version
	if current != nil && current.Version >= snap.Version {
		snap.Version = current.Version + 1
	}
	if err := st.SaveProject(snap); err != nil {
		return err
	}
	fmt.Printf("Restored %s from version %d as version %d\n", snap.Project, from, snap.Version)
	return nil
}
