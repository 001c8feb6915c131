package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/fentz26/tasksync/internal/audit"
	"github.com/fentz26/tasksync/internal/relay"
	"github.com/fentz26/tasksync/internal/snapshot"
	"github.com/fentz26/tasksync/internal/store"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay",
	Long:  `Starts the relay that stores project snapshots and fans patches out to every open board.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address for the relay")
	serveCmd.Flags().String("db", "", "path to the SQLite database")
	_ = viper.BindPFlag("server.listen", serveCmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag("server.db", serveCmd.Flags().Lookup("db"))
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Println("Starting tasksync relay...")
	logger := newLogger(os.Stderr)

	st, err := store.New(cfg.Server.DB)
	if err != nil {
		return err
	}

	cache := snapshot.New(st, cfg.Server.FlushInterval, logger)
	service := relay.NewService(cache, st, audit.NewChangeLog(st), relay.Options{
		BackupEvery: cfg.Server.BackupEvery,
		BackupKeep:  cfg.Server.BackupKeep,
		Logger:      logger,
	})
	hub := relay.NewHub(service, logger)
	server := relay.NewServer(service, hub, cfg.Server.Listen, version)

	cache.Start()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down relay...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		return nil
	})

	runErr := g.Wait()
	if runErr != nil {
		log.Printf("Server error: %v", runErr)
	}

	log.Println("Flushing snapshots...")
	if err := cache.Stop(); err != nil {
		log.Printf("Snapshot flush error: %v", err)
	}

	log.Println("Closing database connection...")
	if err := st.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("Shutdown complete")
	return runErr
}
