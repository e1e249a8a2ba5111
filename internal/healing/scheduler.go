// Package healing drives the system forward: the tick loop that lists
// containers, consults the policy evaluator, applies backoff, restarts, and
// records outcomes, plus the event listener that auto-admits containers by
// label. Both run concurrently against the shared state store.
package healing

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/healctl/healctl/internal/identity"
	"github.com/healctl/healctl/internal/policy"
	"github.com/healctl/healctl/internal/runtime"
	"github.com/healctl/healctl/internal/store"
	"github.com/healctl/healctl/pkg/libarcane"
)

const (
	minConcurrency        = 4
	recoveryInterval      = 5 * time.Second
	defaultRestartTimeout = 30 * time.Second
)

// Notifier is the narrow slice of the notification dispatcher the scheduler
// needs; kept as an interface so tests can stub it out trivially.
type Notifier interface {
	Notify(store.Event)
}

// MetricsSink is the narrow slice of the metrics collector the scheduler
// needs.
type MetricsSink interface {
	RecordRestart(stableID, status string)
	SetQuarantined(n int)
	SetMonitored(n int)
	ObserveTick(d time.Duration)
	SetMaintenance(enabled bool)
}

// Scheduler is the healing loop. One Scheduler runs against one runtime
// adapter and one store; it never terminates on a per-container error, only
// on context cancellation.
type Scheduler struct {
	adapter     runtime.Adapter
	store       *store.Store
	notifier    Notifier
	metrics     MetricsSink
	log         *slog.Logger
	concurrency int

	// pendingDeadline, consecutiveRestarts, and cooldownNotified are keyed
	// by stable id and guard at-most-one-concurrent-restart, the backoff
	// step count, and the once-per-cooldown event; sync.Map avoids a
	// store-wide lock for purely in-memory scheduling bookkeeping that
	// never needs to be durable.
	pendingDeadline     sync.Map // string -> time.Time
	consecutiveRestarts sync.Map // string -> int
	cooldownNotified    sync.Map // string -> struct{}
}

// New builds a Scheduler. concurrency is clamped to at least minConcurrency,
// per the at-least-4-workers operational guarantee.
func New(adapter runtime.Adapter, st *store.Store, notifier Notifier, metrics MetricsSink, log *slog.Logger, concurrency int) *Scheduler {
	if concurrency < minConcurrency {
		concurrency = minConcurrency
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{adapter: adapter, store: st, notifier: notifier, metrics: metrics, log: log, concurrency: concurrency}
}

// Run executes the tick loop until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		interval := time.Duration(s.store.GetConfig().Monitor.IntervalSeconds) * time.Second
		if interval <= 0 {
			interval = 30 * time.Second
		}

		s.tick(ctx)

		if s.metrics != nil {
			s.metrics.ObserveTick(time.Since(start))
		}

		elapsed := time.Since(start)
		if elapsed < interval {
			if !sleepOrDone(ctx, interval-elapsed) {
				return
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	maint := s.store.GetMaintenance()
	if s.metrics != nil {
		s.metrics.SetMaintenance(maint.Enabled)
	}
	if maint.Enabled {
		s.log.Debug("healing: maintenance enabled, skipping tick")
		return
	}

	snapshots, err := s.adapter.List(ctx, true)
	if err != nil {
		s.log.Warn("healing: failed to list containers", "error", err)
		sleepOrDone(ctx, recoveryInterval)
		return
	}

	live := make(map[string]struct{}, len(snapshots))
	for _, snap := range snapshots {
		live[identity.Resolve(snap)] = struct{}{}
	}
	s.store.GC(live)

	monitored := 0
	quarantined := 0
	cfg := s.store.GetConfig()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, snap := range snapshots {
		snap := snap
		stableID := identity.Resolve(snap)

		for _, ephemeral := range []string{snap.ShortID, snap.ID} {
			s.store.ResolveLegacyID(ephemeral, stableID)
		}

		if !s.isMonitored(cfg, snap, stableID) {
			continue
		}
		monitored++
		if s.store.IsQuarantined(stableID) {
			quarantined++
		}

		g.Go(func() error {
			s.evaluateOne(gctx, cfg, snap, stableID)
			return nil
		})
	}

	_ = g.Wait()

	if s.metrics != nil {
		s.metrics.SetMonitored(monitored)
		s.metrics.SetQuarantined(quarantined)
	}
}

// isMonitored implements the "is this monitored?" predicate from the
// component design: not excluded, and (include_all OR selected OR
// label-matched). Ephemeral id lookups against legacy entries are folded in
// via the ResolveLegacyID call already issued above.
func (s *Scheduler) isMonitored(cfg store.Config, snap runtime.Snapshot, stableID string) bool {
	if libarcane.IsInternalContainer(snap.Labels) {
		return false
	}

	selected, excluded, _ := s.store.MembershipOf(stableID, snap.ShortID, snap.ID)
	if excluded {
		return false
	}
	if cfg.Monitor.IncludeAll || selected {
		return true
	}
	if cfg.Monitor.LabelKey == "" {
		return false
	}
	return snap.Labels[cfg.Monitor.LabelKey] == cfg.Monitor.LabelValue
}

func (s *Scheduler) evaluateOne(ctx context.Context, cfg store.Config, snap runtime.Snapshot, stableID string) {
	if deadline, ok := s.pendingDeadline.Load(stableID); ok {
		if time.Now().Before(deadline.(time.Time)) {
			return
		}
	}

	quarantined := s.store.IsQuarantined(stableID)
	window := time.Duration(cfg.Restart.MaxRestartsWindowSeconds) * time.Second
	windowedCount, lastRestart := s.store.GetWindowedRestarts(stableID, window)

	probeResult := s.runProbeIfConfigured(ctx, stableID, snap)

	decision := policy.Evaluate(policy.Input{
		Snapshot:      snap,
		Config:        cfg,
		Quarantined:   quarantined,
		WindowedCount: windowedCount,
		LastRestart:   lastRestart,
		Probe:         probeResult,
	})

	switch decision.Action {
	case policy.ActionSkip:
		s.handleSkip(stableID, snap, decision)
	case policy.ActionQuarantine:
		s.store.Quarantine(stableID)
		ev := store.Event{
			Timestamp: time.Now().UTC(), StableID: stableID, EphemeralID: snap.ID,
			Kind: store.EventQuarantine, Status: store.StatusInfo,
			RestartCount: s.store.GetTotalRestarts(stableID), Message: decision.Reason,
		}
		s.store.AppendEvent(ev)
		s.notify(ev)
		s.consecutiveRestarts.Delete(stableID)
		s.cooldownNotified.Delete(stableID)
	case policy.ActionRestart:
		s.restart(ctx, cfg, stableID, snap, decision)
	}
}

func (s *Scheduler) handleSkip(stableID string, snap runtime.Snapshot, decision policy.Decision) {
	if decision.Reason == "healthy" {
		// "Consecutive" restarts reset once a container is observed
		// healthy again, per the backoff computation rule: the step
		// count only keeps climbing across a genuinely ongoing failure
		// streak, not across ticks where the container has recovered.
		s.consecutiveRestarts.Delete(stableID)
		s.pendingDeadline.Delete(stableID)
		s.cooldownNotified.Delete(stableID)
		return
	}
	if decision.Reason != "cooldown" {
		return
	}
	// Only the first entry into cooldown is worth an event; subsequent
	// ticks hitting the same cooldown window would just be noise.
	if _, already := s.cooldownNotified.LoadOrStore(stableID, struct{}{}); already {
		return
	}
	ev := store.Event{
		Timestamp: time.Now().UTC(), StableID: stableID, EphemeralID: snap.ID,
		Kind: store.EventHealthCheckFailed, Status: store.StatusSkipped,
		RestartCount: s.store.GetTotalRestarts(stableID),
		Message:      "in cooldown until " + decision.NextAllowed.Format(time.RFC3339),
	}
	s.store.AppendEvent(ev)
}

func (s *Scheduler) restart(ctx context.Context, cfg store.Config, stableID string, snap runtime.Snapshot, decision policy.Decision) {
	n, _ := s.consecutiveRestarts.LoadOrStore(stableID, 0)
	step := n.(int)

	delaySeconds := policy.BackoffDelay(cfg.Backoff, step)
	delay := time.Duration(delaySeconds * float64(time.Second))
	deadline := time.Now().Add(delay)
	s.pendingDeadline.Store(stableID, deadline)

	if delay > 0 {
		if !sleepOrDone(ctx, delay) {
			return
		}
	}

	err := s.adapter.Restart(ctx, snap.ID, defaultRestartTimeout)
	now := time.Now().UTC()
	s.store.RecordRestart(stableID, now)
	s.consecutiveRestarts.Store(stableID, step+1)
	s.cooldownNotified.Delete(stableID)

	status := store.StatusSuccess
	message := decision.Reason
	if err != nil {
		status = store.StatusFailure
		message = decision.Reason + ": " + err.Error()
	} else {
		s.pendingDeadline.Delete(stableID)
	}

	if s.metrics != nil {
		s.metrics.RecordRestart(stableID, string(status))
	}

	ev := store.Event{
		Timestamp: now, StableID: stableID, EphemeralID: snap.ID,
		Kind: store.EventRestart, Status: status,
		RestartCount: s.store.GetTotalRestarts(stableID), Message: message,
	}
	s.store.AppendEvent(ev)
	s.notify(ev)
}

func (s *Scheduler) runProbeIfConfigured(ctx context.Context, stableID string, snap runtime.Snapshot) policy.ProbeResult {
	probe, ok := s.store.GetProbe(stableID)
	if !ok || probe.Kind == store.ProbeNone {
		return policy.ProbeResult{}
	}

	timeout := time.Duration(probe.TimeoutSeconds) * time.Second
	var err error
	switch probe.Kind {
	case store.ProbeHTTP:
		err = s.adapter.ProbeHTTP(ctx, probe.URL, probe.ExpectedStatus, timeout)
	case store.ProbeTCP:
		err = s.adapter.ProbeTCP(ctx, net.JoinHostPort(probe.Host, strconv.Itoa(probe.Port)), timeout)
	case store.ProbeExec:
		err = s.adapter.ProbeExec(ctx, snap.ID, probe.Argv, probe.ExpectedCode, timeout)
	}

	key := "probe:" + stableID
	if err == nil {
		s.consecutiveRestarts.Delete(key)
		return policy.ProbeResult{Configured: true, Retries: probe.Retries, ConsecutiveFailures: 0}
	}

	failures, _ := s.consecutiveRestarts.LoadOrStore(key, 0)
	next := failures.(int) + 1
	s.consecutiveRestarts.Store(key, next)
	return policy.ProbeResult{Configured: true, Retries: probe.Retries, ConsecutiveFailures: next}
}

func (s *Scheduler) notify(ev store.Event) {
	if s.notifier != nil {
		s.notifier.Notify(ev)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
