package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/signup-orchestrator/internal/batch"
	"github.com/hochfrequenz/signup-orchestrator/internal/domain"
	"github.com/hochfrequenz/signup-orchestrator/internal/exchange"
	"github.com/hochfrequenz/signup-orchestrator/internal/notify"
	"github.com/hochfrequenz/signup-orchestrator/tui"
)

var (
	useExistingEmails bool
	batchInput        string
	batchTUI          bool
	registerProxy     string
)

const progressInterval = 2 * time.Second

func init() {
	batchCmd := &cobra.Command{
		Use:   "batch COUNT CONCURRENCY",
		Short: "Run a batch of registrations",
		Long: `Run COUNT registrations with at most CONCURRENCY in flight.

Identities come from --input, from previously imported identities with
--use-existing-emails, or are generated as plus aliases of email.base_address.
Ctrl+C stops admitting new items and waits for in-flight ones; a second
Ctrl+C aborts them.`,
		Args: cobra.ExactArgs(2),
		RunE: runBatch,
	}
	batchCmd.Flags().BoolVar(&useExistingEmails, "use-existing-emails", false, "use identities stored by import")
	batchCmd.Flags().StringVar(&batchInput, "input", "", "read identities from a csv/json/yaml/txt file")
	batchCmd.Flags().BoolVar(&batchTUI, "tui", false, "show a live dashboard")
	rootCmd.AddCommand(batchCmd)

	registerCmd := &cobra.Command{
		Use:   "register EMAIL",
		Short: "Register a single account",
		Args:  cobra.ExactArgs(1),
		RunE:  runRegister,
	}
	registerCmd.Flags().StringVar(&registerProxy, "proxy", "", "proxy URL for the signup page")
	rootCmd.AddCommand(registerCmd)
}

func positiveArg(name, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, s)
	}
	return n, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	count, err := positiveArg("COUNT", args[0])
	if err != nil {
		return err
	}
	concurrency, err := positiveArg("CONCURRENCY", args[1])
	if err != nil {
		return err
	}
	if useExistingEmails && batchInput != "" {
		return errors.New("--use-existing-emails and --input are mutually exclusive")
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := a.batchItems(count)
	if err != nil {
		return err
	}
	return a.runTask(cmd.Context(), items, concurrency, batchTUI)
}

func runRegister(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), withProxy(registerProxy))
	if err != nil {
		return err
	}
	defer a.Close()

	items := a.profiles.Complete([]domain.WorkItem{{Identity: args[0]}})
	return a.runTask(cmd.Context(), items, 1, false)
}

// batchItems picks the work items for a batch of count
func (a *app) batchItems(count int) ([]domain.WorkItem, error) {
	var (
		items []domain.WorkItem
		err   error
	)
	switch {
	case batchInput != "":
		items, err = exchange.ImportItems(batchInput)
	case useExistingEmails:
		items, err = a.store.ListIdentities()
	default:
		return a.generate(count)
	}
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errors.New("no identities available")
	}
	if len(items) < count {
		a.logger.Info("Fewer identities than requested", "requested", count, "available", len(items))
	} else {
		items = items[:count]
	}
	return a.profiles.Complete(items), nil
}

// runTask creates and runs one task in the foreground. The returned error
// carries a non-zero exit code when the task failed.
func (a *app) runTask(ctx context.Context, items []domain.WorkItem, concurrency int, dashboard bool) error {
	a.orch.Progress().OnUpdate(notify.OnTerminal(a.notifier(), a.logger))

	task, err := a.orch.Create(ctx, "", items)
	if err != nil {
		return err
	}

	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	var updates <-chan domain.BatchTask
	if dashboard {
		ch, unsubscribe := a.orch.Progress().Subscribe()
		defer unsubscribe()
		updates = ch
	}

	if err := a.orch.Start(runCtx, task.ID, batch.WithConcurrency(concurrency)); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go a.handleSignals(ctx, task.ID, sigCh, abort)

	if dashboard {
		if _, err := tui.Run(runCtx, tui.ModelConfig{
			Task:         task,
			Updates:      updates,
			Control:      a.orch,
			QuitOnFinish: true,
		}); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error(err, "Dashboard exited")
		}
	} else {
		fmt.Printf("Started %s with %s items, concurrency %d\n",
			task.ID, humanize.Comma(int64(len(items))), concurrency)
		go a.printProgress(runCtx, task.ID)
	}

	final, err := a.orch.Wait(context.WithoutCancel(ctx), task.ID)
	if err != nil {
		return err
	}

	fmt.Println()
	printSummary(final)
	return exitFor(final)
}

// handleSignals stops the task on the first signal and aborts in-flight
// attempts on the second
func (a *app) handleSignals(ctx context.Context, id string, sigCh <-chan os.Signal, abort context.CancelFunc) {
	stopping := false
	for {
		select {
		case <-a.orch.Done(id):
			return
		case <-sigCh:
			if stopping {
				fmt.Fprintln(os.Stderr, "\nAborting in-flight registrations...")
				abort()
				return
			}
			stopping = true
			fmt.Fprintln(os.Stderr, "\nStopping; waiting for in-flight registrations (Ctrl+C again to abort)...")
			if err := a.orch.Stop(ctx, id); err != nil {
				a.logger.Error(err, "Stop failed", "task", id)
			}
		}
	}
}

func (a *app) printProgress(ctx context.Context, id string) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.orch.Done(id):
			return
		case <-ticker.C:
			stats, err := a.orch.Stats(id)
			if err != nil {
				return
			}
			fmt.Printf("[%s] %s/%s (%.1f%%) completed %s failed %s in flight %d\n",
				stats.Status,
				humanize.Comma(int64(stats.Completed+stats.Failed)), humanize.Comma(int64(stats.Total)),
				stats.ProgressPercent,
				humanize.Comma(int64(stats.Completed)), humanize.Comma(int64(stats.Failed)),
				a.orch.InFlight(id))
		}
	}
}

// exitFor maps a finished task onto the process exit status
func exitFor(task domain.BatchTask) error {
	switch task.Status {
	case domain.StatusCompleted, domain.StatusStopped:
		return nil
	case domain.StatusFailed:
		return &exitError{code: 2, msg: fmt.Sprintf("task %s failed: %s", task.ID, task.Error)}
	}
	return &exitError{code: 1, msg: fmt.Sprintf("task %s ended in unexpected status %s", task.ID, task.Status)}
}
