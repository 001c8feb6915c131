package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fentz26/tasksync/internal/config"
)

const envPrefix = "TASKSYNC"

// version is set at build time with -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "tasksync",
	Short: "tasksync - collaborative task tree sync",
	Long: `tasksync keeps a project's task tree in sync between everyone who has it open.
Run "tasksync serve" for the relay and "tasksync board" for the kanban board.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	cfgFile string
	verbose bool

	// cfg is the loaded configuration with env and flag overrides applied.
	cfg *config.Config
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ~/.tasksync/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().String("api", "", "relay address")
	rootCmd.PersistentFlags().String("user", "", "acting user id")
	rootCmd.PersistentFlags().StringP("project", "p", "", "project name")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("client.api", rootCmd.PersistentFlags().Lookup("api"))
	_ = viper.BindPFlag("client.user", rootCmd.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag("client.project", rootCmd.PersistentFlags().Lookup("project"))

	rootCmd.AddCommand(serveCmd, boardCmd, taskCmd, logsCmd, exportCmd, statusCmd, projectsCmd, backupCmd, configCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("tasksync", version)
	},
}

// loadSettings reads .env, the config file, TASKSYNC_* env vars and flags,
// in increasing order of precedence.
func loadSettings(cmd *cobra.Command, args []string) error {
	// It's okay if .env doesn't exist.
	_ = godotenv.Load()

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	loaded, err := config.LoadConfig(path)
	if err != nil {
		return err
	}

	for key, dst := range map[string]*string{
		"client.api":     &loaded.Client.API,
		"client.user":    &loaded.Client.User,
		"client.project": &loaded.Client.Project,
		"server.listen":  &loaded.Server.Listen,
		"server.db":      &loaded.Server.DB,
	} {
		if viper.IsSet(key) && viper.GetString(key) != "" {
			*dst = viper.GetString(key)
		}
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	cfg = loaded
	return nil
}

// newLogger returns the process logger. The board owns the terminal, so it
// logs to a file instead of stderr.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// requireProject returns the project named by the first arg or the config.
func requireProject(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if cfg.Client.Project != "" {
		return cfg.Client.Project, nil
	}
	return "", fmt.Errorf("no project given: pass one or set client.project")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
