package healing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healctl/healctl/internal/healing"
	"github.com/healctl/healctl/internal/runtime"
	"github.com/healctl/healctl/internal/store"
)

// fakeAdapter is an in-memory runtime.Adapter double driven entirely by the
// snapshots and restart recorder a test installs on it.
type fakeAdapter struct {
	mu         sync.Mutex
	snapshots  []runtime.Snapshot
	restarts   []string
	restartErr error
}

func (f *fakeAdapter) List(_ context.Context, _ bool) ([]runtime.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]runtime.Snapshot, len(f.snapshots))
	copy(out, f.snapshots)
	return out, nil
}

func (f *fakeAdapter) Inspect(_ context.Context, id string) (runtime.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.snapshots {
		if s.ID == id {
			return s, nil
		}
	}
	return runtime.Snapshot{}, runtime.ErrNotFound
}

func (f *fakeAdapter) Restart(_ context.Context, longID string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts = append(f.restarts, longID)
	return f.restartErr
}

func (f *fakeAdapter) ProbeHTTP(context.Context, string, int, time.Duration) error { return nil }
func (f *fakeAdapter) ProbeTCP(context.Context, string, time.Duration) error       { return nil }
func (f *fakeAdapter) ProbeExec(context.Context, string, []string, int, time.Duration) error {
	return nil
}

func (f *fakeAdapter) Events(ctx context.Context) (<-chan runtime.RuntimeEvent, <-chan error) {
	events := make(chan runtime.RuntimeEvent)
	errs := make(chan error)
	go func() {
		<-ctx.Done()
		close(events)
		close(errs)
	}()
	return events, errs
}

func (f *fakeAdapter) restartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.restarts)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir(), nil)
	require.NoError(t, err)
	return s
}

func TestScheduler_RestartsFailedMonitoredContainer(t *testing.T) {
	adapter := &fakeAdapter{snapshots: []runtime.Snapshot{
		{ID: "abc123", ShortID: "abc123", Name: "web", Status: runtime.StatusExited, ExitCode: 1},
	}}
	st := newTestStore(t)
	cfg := st.GetConfig()
	cfg.Monitor.IncludeAll = true
	cfg.Backoff.Enabled = false
	_, err := st.SetConfig(cfg)
	require.NoError(t, err)

	sched := healing.New(adapter, st, nil, nil, nil, 4)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Exercise a single tick's worth of work: run drives the Run loop until
	// ctx expires, and the 30s monitor interval keeps that to one tick.
	run(ctx, sched)

	assert.Equal(t, 1, adapter.restartCount())
	assert.Equal(t, 1, st.GetTotalRestarts("web"))
}

func TestScheduler_SkipsUnmonitoredContainer(t *testing.T) {
	adapter := &fakeAdapter{snapshots: []runtime.Snapshot{
		{ID: "abc123", ShortID: "abc123", Name: "web", Status: runtime.StatusExited, ExitCode: 1},
	}}
	st := newTestStore(t)
	sched := healing.New(adapter, st, nil, nil, nil, 4)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	run(ctx, sched)

	assert.Equal(t, 0, adapter.restartCount())
}

func TestScheduler_MaintenanceModeSkipsAllContainers(t *testing.T) {
	adapter := &fakeAdapter{snapshots: []runtime.Snapshot{
		{ID: "abc123", ShortID: "abc123", Name: "web", Status: runtime.StatusExited, ExitCode: 1},
	}}
	st := newTestStore(t)
	cfg := st.GetConfig()
	cfg.Monitor.IncludeAll = true
	_, err := st.SetConfig(cfg)
	require.NoError(t, err)
	st.SetMaintenance(true)

	sched := healing.New(adapter, st, nil, nil, nil, 4)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	run(ctx, sched)

	assert.Equal(t, 0, adapter.restartCount())
}

func TestScheduler_QuarantinesAfterMaxRestarts(t *testing.T) {
	adapter := &fakeAdapter{snapshots: []runtime.Snapshot{
		{ID: "abc123", ShortID: "abc123", Name: "web", Status: runtime.StatusExited, ExitCode: 1},
	}}
	st := newTestStore(t)
	cfg := st.GetConfig()
	cfg.Monitor.IncludeAll = true
	cfg.Restart.MaxRestarts = 1
	cfg.Restart.CooldownSeconds = 0
	cfg.Backoff.Enabled = false
	_, err := st.SetConfig(cfg)
	require.NoError(t, err)
	st.RecordRestart("web", time.Now())

	sched := healing.New(adapter, st, nil, nil, nil, 4)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	run(ctx, sched)

	assert.Equal(t, 0, adapter.restartCount())
	assert.True(t, st.IsQuarantined("web"))
}

func TestScheduler_GCDropsDeadContainerSelection(t *testing.T) {
	adapter := &fakeAdapter{}
	st := newTestStore(t)
	st.Select("ghost")

	sched := healing.New(adapter, st, nil, nil, nil, 4)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	run(ctx, sched)

	selected, _ := st.GetSelection()
	assert.NotContains(t, selected, "ghost")
}

// run exercises exactly one scheduler tick by starting Run against a context
// that cancels almost immediately after the first iteration has had time to
// complete — Run itself has no single-tick entry point by design, since
// production callers always want the loop.
func run(ctx context.Context, sched *healing.Scheduler) {
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()
	<-ctx.Done()
	<-done
}
