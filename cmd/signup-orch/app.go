package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"

	"github.com/hochfrequenz/signup-orchestrator/internal/batch"
	"github.com/hochfrequenz/signup-orchestrator/internal/config"
	"github.com/hochfrequenz/signup-orchestrator/internal/domain"
	"github.com/hochfrequenz/signup-orchestrator/internal/logging"
	"github.com/hochfrequenz/signup-orchestrator/internal/metrics"
	"github.com/hochfrequenz/signup-orchestrator/internal/notify"
	"github.com/hochfrequenz/signup-orchestrator/internal/registry"
	"github.com/hochfrequenz/signup-orchestrator/internal/snapshot"
	"github.com/hochfrequenz/signup-orchestrator/internal/taskstore"
	"github.com/hochfrequenz/signup-orchestrator/internal/workflow"
)

// app holds everything a command needs, wired from the config
type app struct {
	cfg      *config.Config
	logger   logr.Logger
	flush    func()
	store    *taskstore.Store
	files    *snapshot.FileSink
	metrics  *metrics.Recorder
	orch     *batch.Orchestrator
	aliases  workflow.AliasGenerator
	profiles workflow.ProfileGenerator
	proxy    string
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// openStore opens the task database, creating its directory
func openStore(cfg *config.Config) (*taskstore.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.General.DatabasePath), 0755); err != nil {
		return nil, err
	}
	store, err := taskstore.New(cfg.General.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening task store: %w", err)
	}
	return store, nil
}

type appOption func(*app)

// withProxy routes every page of the workflow through proxy
func withProxy(proxy string) appOption {
	return func(a *app) { a.proxy = proxy }
}

// newApp loads config, opens persistence and restores previously persisted
// tasks into a fresh orchestrator
func newApp(ctx context.Context, opts ...appOption) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, flush, err := logging.New(logging.Options{
		Level:       cfg.General.LogLevel,
		Development: cfg.General.LogDevelopment,
	})
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		flush()
		return nil, err
	}
	files, err := snapshot.NewFileSink(cfg.Batch.SnapshotDir)
	if err != nil {
		store.Close()
		flush()
		return nil, fmt.Errorf("opening snapshot dir: %w", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		flush:   flush,
		store:   store,
		files:   files,
		metrics: metrics.NewRecorder(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if cfg.Email.PlusMode {
		a.aliases = &workflow.PlusAliasGenerator{
			Mode:         workflow.SuffixMode(cfg.Email.SuffixMode),
			ManualSuffix: cfg.Email.ManualSuffix,
		}
	}

	runner, err := a.newRunner()
	if err != nil {
		a.Close()
		return nil, err
	}

	reg := registry.New()
	sink := snapshot.Multi{store, files}
	a.orch, err = batch.New(batch.Options{
		Registry:    reg,
		Runner:      runner,
		Sink:        sink,
		Logger:      logger,
		Metrics:     a.metrics,
		Concurrency: cfg.Batch.Concurrency,
		Retry: batch.RetryPolicy{
			MaxAttempts:    cfg.Batch.MaxAttempts,
			Delay:          cfg.Batch.RetryDelay.Duration,
			AttemptTimeout: cfg.Batch.AttemptTimeout.Duration,
		},
		PollInterval: cfg.Batch.PausePollInterval.Duration,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	if err := a.restore(ctx, reg, sink); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// newRunner builds the signup workflow for the configured driver
func (a *app) newRunner() (*workflow.Workflow, error) {
	wc := a.cfg.Workflow

	captcha, err := workflow.NewCaptchaResolver(wc.CaptchaMode, workflow.CaptchaOptions{
		In:      os.Stdin,
		Out:     os.Stderr,
		Timeout: wc.CaptchaTimeout.Duration,
	})
	if err != nil {
		return nil, err
	}

	switch wc.Driver {
	case "dryrun", "":
		inbox := workflow.NewMemoryInbox()
		sender := wc.ExpectedSender
		if sender == "" {
			sender = workflow.DryRunSender
		}
		return workflow.New(workflow.Options{
			Pages:          &workflow.DryRunFactory{Inbox: inbox, FailureRate: wc.DryRunFailureRate},
			Captcha:        captcha,
			Codes:          workflow.NewPollingCodeResolver(inbox, a.cfg.Email.PollInterval.Duration),
			Aliases:        a.aliases,
			ExpectedSender: sender,
			EmailTimeout:   wc.EmailTimeout.Duration,
			Proxy:          a.proxy,
		})
	}
	return nil, fmt.Errorf("unknown workflow driver %q", wc.Driver)
}

// restore loads tasks from the database, falling back to snapshot files
// for tasks the database does not know
func (a *app) restore(ctx context.Context, reg *registry.Registry, sink batch.Sink) error {
	listed, err := a.store.ListTasks(taskstore.ListOptions{})
	if err != nil {
		return err
	}
	tasks := make([]domain.BatchTask, 0, len(listed))
	known := make(map[string]bool, len(listed))
	for _, t := range listed {
		full, err := a.store.GetTask(t.ID)
		if err != nil {
			return err
		}
		tasks = append(tasks, full)
		known[t.ID] = true
	}

	fromFiles, err := a.files.LoadAll()
	if err != nil {
		// corrupt files are reported but do not block startup
		a.logger.Error(err, "Some snapshot files could not be read")
	}
	for _, t := range fromFiles {
		if !known[t.ID] {
			tasks = append(tasks, t)
		}
	}

	for _, t := range tasks {
		if err := reg.Restore(t); err != nil {
			if errors.Is(err, domain.ErrDuplicateTask) {
				continue
			}
			return err
		}
		restored, _ := reg.Get(t.ID)
		if restored.Status != t.Status {
			a.logger.Info("Marked interrupted task stopped", "task", t.ID, "was", t.Status)
			if err := sink.SaveSnapshot(ctx, restored); err != nil {
				a.logger.Error(err, "Failed to persist restored task", "task", t.ID)
			}
		}
	}
	return nil
}

// notifier builds the configured notification fan-out
func (a *app) notifier() notify.Notifier {
	var ns []notify.Notifier
	if a.cfg.Notifications.Desktop {
		ns = append(ns, notify.NewDesktopNotifier(true))
	}
	if a.cfg.Notifications.SlackWebhook != "" {
		ns = append(ns, notify.NewSlackNotifier(a.cfg.Notifications.SlackWebhook))
	}
	if len(ns) == 0 {
		return notify.NoopNotifier{}
	}
	return notify.NewMultiNotifier(ns...)
}

// generate builds count items from the configured base address
func (a *app) generate(count int) ([]domain.WorkItem, error) {
	base := a.cfg.Email.BaseAddress
	if base == "" {
		return nil, errors.New("email.base_address is required to generate identities")
	}
	if a.aliases == nil {
		return nil, errors.New("generating identities requires email.plus_mode")
	}
	return a.profiles.Items(base, count, a.aliases)
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	a.flush()
}
