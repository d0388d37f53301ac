package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "rolewatch/pkg/logx"
)

// Runner is invoked once per trigger tick.
type Runner interface {
	RunCycle(ctx context.Context) error
}

// Trigger feeds single cycle invocations into a Runner on a cron or interval
// schedule. The Runner itself stays trigger-agnostic.
type Trigger struct {
	spec   ParsedSpec
	runner Runner
	log    logx.Logger

	mu     sync.Mutex
	c      *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTrigger(rawSpec string, runner Runner, log logx.Logger) (*Trigger, error) {
	spec, err := ParseSchedule(rawSpec)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Trigger{spec: spec, runner: runner, log: log}, nil
}

// Start launches the schedule and fires one cycle immediately so a restart
// doesn't wait a full interval to catch up.
func (t *Trigger) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		_ = t.runner.RunCycle(runCtx)
	}()

	switch t.spec.Kind {
	case SpecCron:
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		c := cron.New(cron.WithParser(parser))
		_, err := c.AddFunc(t.spec.Cron, func() {
			_ = t.runner.RunCycle(runCtx)
		})
		if err != nil {
			cancel()
			t.cancel = nil
			return err
		}
		c.Start()
		t.c = c
		t.log.Info("trigger started", logx.String("cron", t.spec.Cron))
	case SpecInterval:
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			ticker := time.NewTicker(t.spec.Every)
			defer ticker.Stop()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-ticker.C:
					_ = t.runner.RunCycle(runCtx)
				}
			}
		}()
		t.log.Info("trigger started", logx.Duration("interval", t.spec.Every))
	}
	return nil
}

// Stop halts the schedule and waits for an in-flight cycle trigger to return
// (bounded by ctx).
func (t *Trigger) Stop(ctx context.Context) {
	t.mu.Lock()
	cancel := t.cancel
	c := t.c
	t.cancel = nil
	t.c = nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if c != nil {
		<-c.Stop().Done()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		t.log.Warn("trigger stop timed out")
	}
}
