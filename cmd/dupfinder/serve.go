package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harishkarthiktk/dupFinder/internal/api"
	"github.com/harishkarthiktk/dupFinder/internal/scan"
	"github.com/harishkarthiktk/dupFinder/internal/scheduler"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled scanner",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.ensureConfig(); err != nil {
				return err
			}
			st, closeStore, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore()

			slog.Info("dupfinder starting",
				"version", version,
				"http_addr", a.cfg.HTTPAddr,
				"db_path", a.cfg.DBPath,
				"scan_paths", a.cfg.ScanPaths,
				"schedule", a.cfg.Schedule)

			mgr := scan.NewManager(st, a.scanConfig())

			if a.cfg.Schedule != "" {
				sched, err := scheduler.New(a.cfg.Schedule, func() {
					if _, err := mgr.Start(context.Background(), "schedule"); err != nil {
						if errors.Is(err, scan.ErrAlreadyRunning) {
							slog.Info("scheduled scan skipped, previous scan still running")
							return
						}
						slog.Error("scheduled scan start", "error", err)
					}
				})
				if err != nil {
					return err
				}
				sched.Start()
				defer sched.Stop()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := api.New(a.cfg.HTTPAddr, st, mgr, version)
			if err := srv.Run(ctx); err != nil {
				return err
			}

			// Give a running scan a moment to notice the cancel and
			// flush before the database closes underneath it.
			if _, err := mgr.Cancel(); err == nil {
				slog.Info("waiting for the active scan to stop")
				deadline := time.Now().Add(5 * time.Second)
				for mgr.ActiveScan() != nil && time.Now().Before(deadline) {
					time.Sleep(50 * time.Millisecond)
				}
			}
			slog.Info("dupfinder stopped")
			return nil
		},
	}
}
