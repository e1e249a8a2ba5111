package store_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healctl/healctl/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(dir, nil)
	require.NoError(t, err)
	return s
}

func TestSelectExclude_MutuallyExclusive(t *testing.T) {
	s := newTestStore(t)

	s.Select("app")
	selected, excluded := s.GetSelection()
	assert.Contains(t, selected, "app")
	assert.NotContains(t, excluded, "app")

	s.Exclude("app")
	selected, excluded = s.GetSelection()
	assert.NotContains(t, selected, "app")
	assert.Contains(t, excluded, "app")
}

func TestDeselectUnexclude_RemoveWithoutFlipping(t *testing.T) {
	s := newTestStore(t)

	s.Select("app")
	s.Deselect("app")
	selected, excluded := s.GetSelection()
	assert.NotContains(t, selected, "app")
	assert.NotContains(t, excluded, "app")

	s.Exclude("app")
	s.Unexclude("app")
	selected, excluded = s.GetSelection()
	assert.NotContains(t, selected, "app")
	assert.NotContains(t, excluded, "app")
}

func TestRecordRestart_TotalNeverDecreases(t *testing.T) {
	s := newTestStore(t)

	s.RecordRestart("app", time.Now())
	s.RecordRestart("app", time.Now())
	assert.Equal(t, 2, s.GetTotalRestarts("app"))

	count, _ := s.GetWindowedRestarts("app", time.Hour)
	assert.Equal(t, 2, count)
}

func TestGetWindowedRestarts_PrunesOldEntries(t *testing.T) {
	s := newTestStore(t)

	s.RecordRestart("app", time.Now().Add(-2*time.Hour))
	s.RecordRestart("app", time.Now())

	count, _ := s.GetWindowedRestarts("app", time.Hour)
	assert.Equal(t, 1, count)
	assert.Equal(t, 2, s.GetTotalRestarts("app"), "total must survive pruning of the windowed list")
}

func TestQuarantine_StickyUntilExplicitUnquarantine(t *testing.T) {
	s := newTestStore(t)

	s.Quarantine("app")
	assert.True(t, s.IsQuarantined("app"))

	s.Unquarantine("app")
	assert.False(t, s.IsQuarantined("app"))
}

func TestEventLog_BoundedFIFO(t *testing.T) {
	s := newTestStore(t)
	cfg := s.GetConfig()
	cfg.UI.MaxLogEntries = 2
	_, err := s.SetConfig(cfg)
	require.NoError(t, err)

	s.AppendEvent(store.Event{StableID: "a", Kind: store.EventRestart})
	s.AppendEvent(store.Event{StableID: "b", Kind: store.EventRestart})
	s.AppendEvent(store.Event{StableID: "c", Kind: store.EventRestart})

	events := s.GetEvents(0)
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].StableID)
	assert.Equal(t, "c", events[1].StableID)
}

func TestGetConfig_ReturnsIndependentCopy(t *testing.T) {
	s := newTestStore(t)

	cfg := s.GetConfig()
	cfg.Monitor.IntervalSeconds = 999

	fresh := s.GetConfig()
	assert.NotEqual(t, 999, fresh.Monitor.IntervalSeconds)
}

func TestGC_DropsSelectionNotInLiveSetButKeepsRestarts(t *testing.T) {
	s := newTestStore(t)

	s.Select("gone")
	s.RecordRestart("gone", time.Now())

	s.GC(map[string]struct{}{"other": {}})

	selected, _ := s.GetSelection()
	assert.NotContains(t, selected, "gone")
	assert.Equal(t, 1, s.GetTotalRestarts("gone"), "restart history survives transient disappearance")
}

func TestPersistence_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := store.Open(dir, nil)
	require.NoError(t, err)
	s.Select("app")
	s.Quarantine("app")
	s.RecordRestart("app", time.Now())
	s.SetMaintenance(true)

	reopened, err := store.Open(dir, nil)
	require.NoError(t, err)

	selected, _ := reopened.GetSelection()
	assert.Contains(t, selected, "app")
	assert.True(t, reopened.IsQuarantined("app"))
	assert.Equal(t, 1, reopened.GetTotalRestarts("app"))
	assert.True(t, reopened.GetMaintenance().Enabled)
}

func TestOpen_CorruptFileFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/config.json", []byte("{not json"), 0o644))

	s, err := store.Open(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, store.DefaultConfig().Monitor.IntervalSeconds, s.GetConfig().Monitor.IntervalSeconds)
}

func TestResolveLegacyID_RewritesMembership(t *testing.T) {
	s := newTestStore(t)
	s.Select("abcdef1234567890")
	s.Quarantine("abcdef1234567890")
	s.RecordRestart("abcdef1234567890", time.Now())

	s.ResolveLegacyID("abcdef1234567890", "svc")

	selected, _ := s.GetSelection()
	assert.Contains(t, selected, "svc")
	assert.True(t, s.IsQuarantined("svc"))
	assert.Equal(t, 1, s.GetTotalRestarts("svc"))
}

func TestImportExport_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	s.Select("app")
	s.Exclude("other")
	s.SetProbe("app", store.Probe{Kind: store.ProbeHTTP, URL: "http://localhost/health", TimeoutSeconds: 5, Retries: 3, IntervalSeconds: 10})

	exported, err := s.ExportConfig()
	require.NoError(t, err)

	s2 := newTestStore(t)
	require.NoError(t, s2.ImportConfig(exported))

	selected, excluded := s2.GetSelection()
	assert.Contains(t, selected, "app")
	assert.Contains(t, excluded, "other")
	probe, ok := s2.GetProbe("app")
	require.True(t, ok)
	assert.Equal(t, store.ProbeHTTP, probe.Kind)
}
