package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/windowbot/internal/config"
	"github.com/alanyoungcy/windowbot/internal/domain"
)

type stubInstance struct {
	id        string
	mu        sync.Mutex
	running   bool
	cancelled int
}

func (s *stubInstance) ID() string { return s.id }

func (s *stubInstance) Run(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	<-ctx.Done()
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return ctx.Err()
}

func (s *stubInstance) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *stubInstance) Status(context.Context) domain.BotStatus {
	return domain.BotStatus{ID: s.id, Running: s.Running()}
}

func (s *stubInstance) CancelOpenOrders(context.Context) {
	s.mu.Lock()
	s.cancelled++
	s.mu.Unlock()
}

func (s *stubInstance) SetLimits(float64, float64) {}

type stubLock struct {
	mu       sync.Mutex
	held     map[string]bool
	acquires int
	releases int
	err      error
}

func (l *stubLock) Acquire(_ context.Context, botID string, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[botID] {
		return domain.ErrLockHeld
	}
	l.held[botID] = true
	l.acquires++
	return nil
}

func (l *stubLock) Release(_ context.Context, botID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, botID)
	l.releases++
	return nil
}

func (l *stubLock) Refresh(context.Context, string, time.Duration) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(lock domain.RunLock) (*Orchestrator, map[string]*stubInstance) {
	cfg := &config.Config{
		Bots: []config.BotConfig{
			{ID: "alpha", Enabled: true},
			{ID: "beta", Enabled: false},
		},
	}
	stubs := map[string]*stubInstance{
		"alpha": {id: "alpha"},
		"beta":  {id: "beta"},
	}
	instances := map[string]Instance{}
	for id, s := range stubs {
		instances[id] = s
	}
	return New(cfg, instances, lock, testLogger()), stubs
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestStartAndStop(t *testing.T) {
	o, stubs := newFixture(nil)

	require.NoError(t, o.Start(context.Background(), "alpha"))
	waitFor(t, func() bool { return stubs["alpha"].Running() })

	require.NoError(t, o.Stop(context.Background(), "alpha"))
	waitFor(t, func() bool { return !stubs["alpha"].Running() })
	assert.Equal(t, 1, stubs["alpha"].cancelled)
}

func TestStartUnknownBot(t *testing.T) {
	o, _ := newFixture(nil)
	err := o.Start(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrUnknownBot)
}

func TestStartTwiceIsConflict(t *testing.T) {
	o, stubs := newFixture(nil)
	require.NoError(t, o.Start(context.Background(), "alpha"))
	waitFor(t, func() bool { return stubs["alpha"].Running() })

	err := o.Start(context.Background(), "alpha")
	assert.ErrorIs(t, err, domain.ErrBotRunning)

	require.NoError(t, o.Stop(context.Background(), "alpha"))
}

func TestStopStoppedBot(t *testing.T) {
	o, _ := newFixture(nil)
	err := o.Stop(context.Background(), "alpha")
	assert.ErrorIs(t, err, domain.ErrBotStopped)
}

func TestLockHeldBlocksStart(t *testing.T) {
	lock := &stubLock{}
	require.NoError(t, lock.Acquire(context.Background(), "alpha", time.Minute))

	o, _ := newFixture(lock)
	err := o.Start(context.Background(), "alpha")
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestLockReleasedOnStop(t *testing.T) {
	lock := &stubLock{}
	o, stubs := newFixture(lock)

	require.NoError(t, o.Start(context.Background(), "alpha"))
	waitFor(t, func() bool { return stubs["alpha"].Running() })
	require.NoError(t, o.Stop(context.Background(), "alpha"))

	waitFor(t, func() bool {
		lock.mu.Lock()
		defer lock.mu.Unlock()
		return lock.releases == 1
	})

	// The id can be started again after a clean stop.
	require.NoError(t, o.Start(context.Background(), "alpha"))
	require.NoError(t, o.Stop(context.Background(), "alpha"))
}

func TestStartEnabledSkipsDisabled(t *testing.T) {
	o, stubs := newFixture(nil)

	o.StartEnabled(context.Background())
	waitFor(t, func() bool { return stubs["alpha"].Running() })
	assert.False(t, stubs["beta"].Running())

	o.StopAll(context.Background())
	waitFor(t, func() bool { return !stubs["alpha"].Running() })
}

func TestStatusSortedAndComplete(t *testing.T) {
	o, stubs := newFixture(nil)
	require.NoError(t, o.Start(context.Background(), "beta"))
	waitFor(t, func() bool { return stubs["beta"].Running() })

	sts := o.Status(context.Background())
	require.Len(t, sts, 2)
	assert.Equal(t, "alpha", sts[0].ID)
	assert.False(t, sts[0].Running)
	assert.Equal(t, "beta", sts[1].ID)
	assert.True(t, sts[1].Running)

	st, err := o.StatusOf(context.Background(), "beta")
	require.NoError(t, err)
	assert.True(t, st.Running)

	_, err = o.StatusOf(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrUnknownBot)

	require.NoError(t, o.Stop(context.Background(), "beta"))
}
