package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/signup-orchestrator/internal/batch"
	"github.com/hochfrequenz/signup-orchestrator/internal/domain"
	"github.com/hochfrequenz/signup-orchestrator/internal/exchange"
	"github.com/hochfrequenz/signup-orchestrator/internal/notify"
	"github.com/hochfrequenz/signup-orchestrator/internal/watcher"
	"github.com/hochfrequenz/signup-orchestrator/web/api"
)

var servePort int

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, scheduled batches and the drop directory",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	// scheduled batches may opt out of notifications
	var quiet sync.Map
	onTerminal := notify.OnTerminal(a.notifier(), a.logger)
	a.orch.Progress().OnUpdate(func(t domain.BatchTask) {
		if _, skip := quiet.Load(t.ID); !skip {
			onTerminal(t)
		}
	})

	schedule, err := batch.LoadScheduleConfig(a.cfg.Batch.ScheduleFile)
	if err != nil {
		return err
	}
	scheduler, err := batch.NewScheduler(schedule.Batches, a.logger)
	if err != nil {
		return err
	}

	drops, err := watcher.NewDropWatcher(a.cfg.Batch.DropDir, func(paths []string) {
		for _, p := range paths {
			a.startDropFile(ctx, p)
		}
	}, a.logger)
	if err != nil {
		return fmt.Errorf("watching drop dir: %w", err)
	}

	port := servePort
	if port == 0 {
		port = a.cfg.Web.Port
	}
	server := api.NewServer(a.orch, api.Options{
		Addr:       api.Addr(a.cfg.Web.Host, port),
		Events:     a.orch.Progress(),
		Metrics:    a.metrics.Handler(),
		Generate:   a.generate,
		Logger:     a.logger,
		RunContext: ctx,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	g.Go(func() error {
		return drops.Run(gctx)
	})
	g.Go(func() error {
		existing, err := drops.Existing()
		if err != nil {
			return err
		}
		for _, p := range existing {
			a.startDropFile(gctx, p)
		}
		return nil
	})
	if len(schedule.Batches) > 0 {
		g.Go(func() error {
			return scheduler.Start(gctx, func(ctx context.Context, sb batch.ScheduledBatch) error {
				return a.runScheduled(ctx, sb, &quiet)
			})
		})
	}

	fmt.Printf("Serving API at http://%s (drop dir %s, %d scheduled batches)\n",
		api.Addr(a.cfg.Web.Host, port), drops.Dir(), len(schedule.Batches))
	err = g.Wait()

	// runs end as stopped once ctx is gone; wait so their final snapshots land
	for _, t := range a.orch.List() {
		<-a.orch.Done(t.ID)
	}
	return err
}

// runScheduled creates and runs one scheduled batch, stopping it gracefully
// once MaxDuration has passed
func (a *app) runScheduled(ctx context.Context, sb batch.ScheduledBatch, quiet *sync.Map) error {
	items, err := a.generate(sb.Count)
	if err != nil {
		return err
	}
	id := fmt.Sprintf("%s_%s", sb.Name, time.Now().Format("20060102T150405"))
	if !sb.NotifyOnComplete {
		quiet.Store(id, struct{}{})
	}
	if _, err := a.orch.Create(ctx, id, items); err != nil {
		return err
	}
	if err := a.orch.Start(ctx, id, batch.WithConcurrency(sb.Concurrency)); err != nil {
		return err
	}

	timer := time.NewTimer(sb.MaxDuration.Duration)
	defer timer.Stop()
	select {
	case <-a.orch.Done(id):
	case <-timer.C:
		a.logger.Info("Scheduled batch hit max duration", "batch", sb.Name, "task", id)
		if err := a.orch.Stop(ctx, id); err != nil {
			a.logger.Error(err, "Stop failed", "task", id)
		}
		<-a.orch.Done(id)
	case <-ctx.Done():
		<-a.orch.Done(id)
	}

	task, err := a.orch.Get(id)
	if err != nil {
		return err
	}
	if task.Status == domain.StatusFailed {
		return fmt.Errorf("task %s failed: %s", id, task.Error)
	}
	return nil
}

// startDropFile turns a dropped identity file into a running task and moves
// the file out of the drop directory
func (a *app) startDropFile(ctx context.Context, path string) {
	dest := "processed"
	if err := a.startFromFile(ctx, path); err != nil {
		a.logger.Error(err, "Drop file rejected", "file", path)
		dest = "failed"
	}

	dir := filepath.Join(filepath.Dir(path), dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		a.logger.Error(err, "Cannot create drop subdirectory", "dir", dir)
		return
	}
	if err := os.Rename(path, filepath.Join(dir, filepath.Base(path))); err != nil {
		a.logger.Error(err, "Cannot move drop file", "file", path)
	}
}

func (a *app) startFromFile(ctx context.Context, path string) error {
	items, err := exchange.ImportItems(path)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("%s contains no identities", path)
	}

	id := dropTaskID(path, time.Now())
	if _, err := a.orch.Create(ctx, id, a.profiles.Complete(items)); err != nil {
		return err
	}
	a.logger.Info("Starting batch from drop file", "file", path, "task", id, "items", len(items))
	return a.orch.Start(ctx, id)
}

// dropTaskID derives a task id from a file name: "new users.csv" ->
// "drop_new-users_20250101T120000"
func dropTaskID(path string, now time.Time) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, name)
	return fmt.Sprintf("drop_%s_%s", name, now.Format("20060102T150405"))
}
