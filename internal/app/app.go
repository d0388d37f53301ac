// Package app wires configuration, logging, transport, storage, dispatch,
// and the watcher into one runnable unit.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"rolewatch/internal/config"
	"rolewatch/internal/dispatch"
	"rolewatch/internal/source"
	"rolewatch/internal/storage"
	adapter "rolewatch/internal/transport/telegram/adapter"
	"rolewatch/internal/watcher"
	logx "rolewatch/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	adapter   *adapter.Adapter
	snapshots *storage.SnapshotStore
	tracker   storage.Tracker
	disp      *dispatch.Service
	orch      *watcher.Orchestrator
	trig      *watcher.Trigger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(logSvc.Logger().With(logx.String("comp", "config")))

	// Reloaded configs must still carry a parseable schedule; structural
	// validation already ran inside Parse().
	cfgm.SetValidator(func(ctx context.Context, c *config.Config) error {
		_, err := watcher.ParseSchedule(scheduleOf(c))
		return err
	})

	apiTimeout, err := config.ParseDurationOrDefault("telegram.api_timeout", cfg.Telegram.APITimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := adapter.New(adapter.Config{
		Token:      cfg.Telegram.Token,
		APITimeout: apiTimeout,
	}, logSvc.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	src, err := newSource(cfg)
	if err != nil {
		return nil, err
	}

	storeLog := logSvc.Logger().With(logx.String("comp", "storage"))
	snapPath := cfg.Storage.SnapshotPath
	if snapPath == "" {
		snapPath = config.DefaultSnapshotPath
	}
	snapshots, err := storage.NewSnapshotStore(snapPath, storeLog)
	if err != nil {
		return nil, err
	}

	trackPath := cfg.Storage.TrackingPath
	if trackPath == "" {
		trackPath = config.DefaultTrackingPath
	}
	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	tracker, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        trackPath,
		BusyTimeout: busyTimeout,
	}, storeLog)
	if err != nil {
		return nil, err
	}

	sendDelay, err := config.ParseDurationOrDefault("watcher.send_delay", cfg.Watcher.SendDelay, 2*time.Second)
	if err != nil {
		return nil, err
	}
	disp := dispatch.New(dispatch.Config{
		MaxRetries: cfg.Watcher.MaxRetries,
		SendDelay:  sendDelay,
		RatePerSec: cfg.Watcher.RatePerSec,
	}, ad, tracker, logSvc.Logger().With(logx.String("comp", "dispatch")))

	orch := watcher.NewOrchestrator(src, snapshots, tracker, disp,
		cfg.Telegram.Channels, logSvc.Logger().With(logx.String("comp", "watcher")))

	trig, err := watcher.NewTrigger(scheduleOf(cfg), orch, logSvc.Logger().With(logx.String("comp", "trigger")))
	if err != nil {
		return nil, err
	}

	return &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		adapter:   ad,
		snapshots: snapshots,
		tracker:   tracker,
		disp:      disp,
		orch:      orch,
		trig:      trig,
	}, nil
}

func newSource(cfg *config.Config) (source.Source, error) {
	if cfg.Source.URL != "" {
		timeout, err := config.ParseDurationOrDefault("source.timeout", cfg.Source.Timeout, 30*time.Second)
		if err != nil {
			return nil, err
		}
		return source.NewHTTP(cfg.Source.URL, timeout)
	}
	return source.NewFile(cfg.Source.Path)
}

func scheduleOf(cfg *config.Config) string {
	if cfg.Watcher.Schedule != "" {
		return cfg.Watcher.Schedule
	}
	return config.DefaultSchedule
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watch unavailable", logx.Err(err))
		}
	}()

	updates := a.cfgm.Subscribe(1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(updates)
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	}()

	if err := a.trig.Start(runCtx); err != nil {
		cancel()
		return err
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("started", logx.Int("channels", len(a.cfgm.Get().Telegram.Channels)))
	return nil
}

// applyConfig applies the live-reloadable subset of a published config:
// logging and the channel set. Schedule, token, and storage changes need a
// restart.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.orch.SetChannels(cfg.Telegram.Channels)
	a.log.Info("config applied", logx.Int("channels", len(cfg.Telegram.Channels)))
}

// Stop shuts the app down. Flushing the tracking store is the one hard
// guarantee here: already-recorded deliveries must survive the restart.
func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.trig.Stop(ctx)
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	var firstErr error
	if err := a.tracker.Flush(ctx); err != nil {
		a.log.Error("flush tracking store", logx.Err(err))
		firstErr = err
	}
	if err := a.tracker.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	a.adapter.Stop()
	a.log.Info("stopped")
	_ = a.logs.Close()
	return firstErr
}
