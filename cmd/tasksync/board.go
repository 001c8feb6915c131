package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/tasksync/internal/channel"
	"github.com/fentz26/tasksync/internal/config"
	"github.com/fentz26/tasksync/internal/session"
	"github.com/fentz26/tasksync/internal/store"
	"github.com/fentz26/tasksync/internal/tui"
)

var noAutostart bool

var boardCmd = &cobra.Command{
	Use:   "board [project]",
	Short: "Open the kanban board for a project",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBoard,
}

func init() {
	boardCmd.Flags().BoolVar(&noAutostart, "no-autostart", false, "do not start a local relay when none is running")
}

func runBoard(cmd *cobra.Command, args []string) error {
	project, err := requireProject(args)
	if err != nil {
		return err
	}
	if cfg.Client.User == "" {
		return fmt.Errorf("no user set: pass --user or set client.user")
	}

	logFile, err := openLogFile("board.log")
	if err != nil {
		return err
	}
	defer logFile.Close()
	logger := newLogger(logFile)

	httpc := channel.NewHTTPClient(cfg.Client.API, cfg.Client.RequestTimeout)

	// 1. Make sure a relay is reachable, starting a local one if we may.
	if !isRelayRunning(httpc) && !noAutostart && isLocal(cfg.Client.API) {
		fmt.Println("⚡ tasksync relay not running. Starting background relay...")
		if err := startRelay(httpc); err != nil {
			fmt.Printf("   %v, continuing offline\n", err)
		}
	}

	// 2. Local cache for offline starts.
	cache, err := store.New(cfg.Client.CacheDB)
	if err != nil {
		return fmt.Errorf("open local cache: %w", err)
	}
	defer cache.Close()

	// 3. Channel and session.
	events := tui.NewEvents()
	ws := channel.DialWS(cfg.Client.API, channel.WSOptions{
		ReconnectInterval: cfg.Client.ReconnectInterval,
		Logger:            logger,
	})
	ch := channel.New(ws, httpc, channel.Options{
		User:       cfg.Client.User,
		Debounce:   cfg.Client.Debounce,
		AckTimeout: cfg.Client.AckTimeout,
		Logger:     logger,
	})
	sess := session.New(session.Options{
		User:     cfg.Client.User,
		Channel:  ch,
		Loader:   httpc,
		Versions: httpc,
		Cache:    cache,
		Logger:   logger,
		OnChange: events.Changed,
		OnNotice: events.Notice,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.AckTimeout)
		defer cancel()
		if err := sess.Close(ctx); err != nil {
			logger.Warn("close session", "error", err)
		}
	}()

	// Catch up on patches broadcast while the socket was down.
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	ws.OnState(func(connected bool) {
		if !connected {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(watchCtx, cfg.Client.RequestTimeout)
			defer cancel()
			if _, err := sess.Resync(ctx); err != nil && !errors.Is(err, session.ErrNoProject) {
				logger.Debug("resync after reconnect", "error", err)
			}
		}()
	})
	go sess.Watch(watchCtx, cfg.Client.VersionPoll)

	// 4. Launch TUI
	app := tui.New(sess, events, project)
	if err := app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func openLogFile(name string) (*os.File, error) {
	dir := config.Dir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
}

func isRelayRunning(httpc *channel.HTTPClient) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := httpc.Health(ctx)
	return err == nil
}

// isLocal reports whether api points at this machine.
func isLocal(api string) bool {
	u, err := url.Parse(api)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func startRelay(httpc *channel.HTTPClient) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	args := []string{"serve"}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	if u, err := url.Parse(cfg.Client.API); err == nil && u.Host != "" {
		args = append(args, "--listen", u.Host)
	}
	cmd := exec.Command(exe, args...)
	// Detach process so it survives the board exiting
	configureRelayProc(cmd)

	logFile, err := openLogFile("relay.log")
	if err != nil {
		return err
	}
	defer logFile.Close()
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		return err
	}

	fmt.Print("   Waiting for relay...")
	for range 20 {
		if isRelayRunning(httpc) {
			fmt.Println(" Done.")
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" Timeout!")
	return fmt.Errorf("relay started but not reachable at %s", cfg.Client.API)
}
