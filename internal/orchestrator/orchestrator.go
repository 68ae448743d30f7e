// Package orchestrator manages the fleet of bot instances: start and stop by
// id against the configured allowlist, run-lock acquisition, and the
// aggregate status view.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/windowbot/internal/config"
	"github.com/alanyoungcy/windowbot/internal/domain"
)

const (
	lockTTL         = 30 * time.Second
	lockRefreshTick = 10 * time.Second
)

// Instance is the control surface one bot exposes to the orchestrator.
// Implemented by engine.Bot.
type Instance interface {
	ID() string
	Run(ctx context.Context) error
	Running() bool
	Status(ctx context.Context) domain.BotStatus
	CancelOpenOrders(ctx context.Context)
	SetLimits(capitalPerTrade, maxDailyLoss float64)
}

type runningInstance struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator owns instance lifecycles. The instance set is fixed at
// construction from the config allowlist; unknown ids are rejected, never
// created on demand.
type Orchestrator struct {
	cfg       *config.Config
	instances map[string]Instance
	lock      domain.RunLock
	logger    *slog.Logger

	mu      sync.Mutex
	running map[string]*runningInstance
}

// New creates the orchestrator over a prebuilt instance registry. lock may
// be nil when no distributed lock backend is configured.
func New(cfg *config.Config, instances map[string]Instance, lock domain.RunLock, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		instances: instances,
		lock:      lock,
		logger:    logger.With(slog.String("component", "orchestrator")),
		running:   make(map[string]*runningInstance),
	}
}

// Start launches the instance with the given id. The run lock is taken
// first, so two processes sharing a store cannot drive the same bot.
func (o *Orchestrator) Start(ctx context.Context, id string) error {
	inst, ok := o.instances[id]
	if !ok {
		return fmt.Errorf("orchestrator: start %q: %w", id, domain.ErrUnknownBot)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, live := o.running[id]; live {
		return fmt.Errorf("orchestrator: start %q: %w", id, domain.ErrBotRunning)
	}

	if o.lock != nil {
		if err := o.lock.Acquire(ctx, id, lockTTL); err != nil {
			return fmt.Errorf("orchestrator: start %q: %w", id, err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ri := &runningInstance{cancel: cancel, done: make(chan struct{})}
	o.running[id] = ri

	o.logger.Info("starting bot", slog.String("bot", id))
	go o.drive(runCtx, inst, ri)
	return nil
}

func (o *Orchestrator) drive(ctx context.Context, inst Instance, ri *runningInstance) {
	defer close(ri.done)
	id := inst.ID()

	if o.lock != nil {
		go o.refreshLock(ctx, id)
	}

	err := inst.Run(ctx)
	if err != nil && ctx.Err() == nil {
		o.logger.Error("bot exited unexpectedly", slog.String("bot", id), slog.String("error", err.Error()))
	}

	o.mu.Lock()
	delete(o.running, id)
	o.mu.Unlock()

	if o.lock != nil {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.lock.Release(releaseCtx, id); err != nil {
			o.logger.Warn("run lock release failed", slog.String("bot", id), slog.String("error", err.Error()))
		}
	}
}

func (o *Orchestrator) refreshLock(ctx context.Context, id string) {
	t := time.NewTicker(lockRefreshTick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := o.lock.Refresh(ctx, id, lockTTL); err != nil {
				// A lost lock means another process may be driving this
				// bot; keep running, the durable store writes stay
				// single-writer as long as the loss is transient.
				o.logger.Warn("run lock refresh failed", slog.String("bot", id), slog.String("error", err.Error()))
			}
		}
	}
}

// Stop cancels the instance's loop, waits for it to drain, and best-effort
// cancels any resting exchange orders. Open positions are left for the next
// start to resume.
func (o *Orchestrator) Stop(ctx context.Context, id string) error {
	inst, ok := o.instances[id]
	if !ok {
		return fmt.Errorf("orchestrator: stop %q: %w", id, domain.ErrUnknownBot)
	}

	o.mu.Lock()
	ri, live := o.running[id]
	o.mu.Unlock()
	if !live {
		return fmt.Errorf("orchestrator: stop %q: %w", id, domain.ErrBotStopped)
	}

	o.logger.Info("stopping bot", slog.String("bot", id))
	ri.cancel()
	select {
	case <-ri.done:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
		o.logger.Warn("bot did not drain in time", slog.String("bot", id))
	}

	inst.CancelOpenOrders(ctx)
	return nil
}

// StartEnabled starts every instance whose config entry is enabled. Used at
// boot; individual failures are logged and skipped so one held lock does not
// keep the rest of the fleet down.
func (o *Orchestrator) StartEnabled(ctx context.Context) {
	for _, bc := range o.cfg.Bots {
		if !bc.Enabled {
			continue
		}
		if err := o.Start(ctx, bc.ID); err != nil {
			o.logger.Warn("boot start failed", slog.String("bot", bc.ID), slog.String("error", err.Error()))
		}
	}
}

// StopAll stops every running instance. Used on shutdown.
func (o *Orchestrator) StopAll(ctx context.Context) {
	o.mu.Lock()
	ids := make([]string, 0, len(o.running))
	for id := range o.running {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		if err := o.Stop(ctx, id); err != nil {
			o.logger.Warn("shutdown stop failed", slog.String("bot", id), slog.String("error", err.Error()))
		}
	}
}

// Status returns every configured instance's status, sorted by id.
func (o *Orchestrator) Status(ctx context.Context) []domain.BotStatus {
	out := make([]domain.BotStatus, 0, len(o.instances))
	for _, inst := range o.instances {
		out = append(out, inst.Status(ctx))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateLimits applies runtime-tunable limits to a configured instance.
func (o *Orchestrator) UpdateLimits(id string, capitalPerTrade, maxDailyLoss float64) error {
	inst, ok := o.instances[id]
	if !ok {
		return fmt.Errorf("orchestrator: update %q: %w", id, domain.ErrUnknownBot)
	}
	inst.SetLimits(capitalPerTrade, maxDailyLoss)
	return nil
}

// StatusOf returns one instance's status.
func (o *Orchestrator) StatusOf(ctx context.Context, id string) (domain.BotStatus, error) {
	inst, ok := o.instances[id]
	if !ok {
		return domain.BotStatus{}, fmt.Errorf("orchestrator: status %q: %w", id, domain.ErrUnknownBot)
	}
	return inst.Status(ctx), nil
}
