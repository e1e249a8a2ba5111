package healing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healctl/healctl/internal/healing"
	"github.com/healctl/healctl/internal/runtime"
	"github.com/healctl/healctl/internal/store"
)

// listenerAdapter is a fakeAdapter that additionally lets a test push
// synthetic runtime events through Events().
type listenerAdapter struct {
	fakeAdapter
	events chan runtime.RuntimeEvent
}

func newListenerAdapter(snapshots ...runtime.Snapshot) *listenerAdapter {
	return &listenerAdapter{
		fakeAdapter: fakeAdapter{snapshots: snapshots},
		events:      make(chan runtime.RuntimeEvent, 8),
	}
}

func (a *listenerAdapter) Events(ctx context.Context) (<-chan runtime.RuntimeEvent, <-chan error) {
	errs := make(chan error)
	go func() {
		<-ctx.Done()
		close(errs)
	}()
	return a.events, errs
}

func labeledConfig(t *testing.T, st *store.Store) {
	t.Helper()
	cfg := st.GetConfig()
	cfg.Monitor.LabelKey = "autoheal"
	cfg.Monitor.LabelValue = "true"
	cfg.Monitor.IncludeAll = false
	_, err := st.SetConfig(cfg)
	require.NoError(t, err)
}

func TestListener_AutoMonitorsLabelMatchedStart(t *testing.T) {
	snap := runtime.Snapshot{ID: "c1", ShortID: "c1", Name: "/web", Labels: map[string]string{"autoheal": "true"}}
	adapter := newListenerAdapter(snap)
	st := newTestStore(t)
	labeledConfig(t, st)

	l := healing.NewListener(adapter, st, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	go l.Run(ctx)
	adapter.events <- runtime.RuntimeEvent{Type: "container", Action: "start", ID: "c1", Labels: snap.Labels}
	<-ctx.Done()

	selected, _ := st.GetSelection()
	assert.Contains(t, selected, "web")

	events := st.GetEvents(0)
	require.NotEmpty(t, events)
	assert.Equal(t, store.EventAutoMonitor, events[len(events)-1].Kind)
}

func TestListener_SkipsExcludedAndEmitsInfoEventOnce(t *testing.T) {
	snap := runtime.Snapshot{ID: "c1", ShortID: "c1", Name: "/web", Labels: map[string]string{"autoheal": "true"}}
	adapter := newListenerAdapter(snap)
	st := newTestStore(t)
	labeledConfig(t, st)
	st.Exclude("web")

	l := healing.NewListener(adapter, st, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	go l.Run(ctx)
	adapter.events <- runtime.RuntimeEvent{Type: "container", Action: "start", ID: "c1", Labels: snap.Labels}
	adapter.events <- runtime.RuntimeEvent{Type: "container", Action: "start", ID: "c1", Labels: snap.Labels}
	<-ctx.Done()

	selected, excluded := st.GetSelection()
	assert.NotContains(t, selected, "web")
	assert.Contains(t, excluded, "web")

	infoCount := 0
	for _, ev := range st.GetEvents(0) {
		if ev.Kind == store.EventAutoMonitor && ev.Status == store.StatusInfo && ev.StableID == "web" {
			infoCount++
		}
	}
	assert.Equal(t, 1, infoCount, "the excluded-skip info event must only be emitted once")
}

func TestListener_NoOpWhenAlreadySelected(t *testing.T) {
	snap := runtime.Snapshot{ID: "c1", ShortID: "c1", Name: "/web", Labels: map[string]string{"autoheal": "true"}}
	adapter := newListenerAdapter(snap)
	st := newTestStore(t)
	labeledConfig(t, st)
	st.Select("web")
	st.ClearEvents()

	l := healing.NewListener(adapter, st, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	go l.Run(ctx)
	adapter.events <- runtime.RuntimeEvent{Type: "container", Action: "start", ID: "c1", Labels: snap.Labels}
	<-ctx.Done()

	assert.Empty(t, st.GetEvents(0), "no auto_monitor event when already selected")
}
