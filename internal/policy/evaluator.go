// Package policy holds the pure decision logic that decides whether a
// container snapshot warrants a restart and, if so, whether the restart is
// admissible right now. No I/O, no locking — everything here is a plain
// function of its inputs so it can be exercised exhaustively by tests.
package policy

import (
	"fmt"
	"time"

	"github.com/healctl/healctl/internal/runtime"
	"github.com/healctl/healctl/internal/store"
)

// Decision is the evaluator's verdict for one container on one tick.
type Decision struct {
	Action Action
	Reason string
	// NextAllowed is set for Skip decisions caused by cooldown, so the
	// scheduler can log a deterministic "until T" without recomputing it.
	NextAllowed time.Time
}

// Action enumerates the three possible evaluator outcomes.
type Action string

const (
	ActionSkip       Action = "skip"
	ActionRestart    Action = "restart"
	ActionQuarantine Action = "quarantine"
)

// ProbeResult is the outcome of the custom probe the scheduler ran before
// calling Evaluate, if a probe is configured for this stable id. Retries is
// the probe definition's configured failure threshold.
type ProbeResult struct {
	Configured          bool
	ConsecutiveFailures int
	Retries             int
}

// Input bundles everything the evaluator needs: the snapshot, the
// applicable configuration, and the per-id state the store already knows.
type Input struct {
	Snapshot      runtime.Snapshot
	Config        store.Config
	Quarantined   bool
	WindowedCount int
	LastRestart   time.Time
	Probe         ProbeResult
}

func isRunningLike(s runtime.Status) bool {
	switch s {
	case runtime.StatusRunning, runtime.StatusRestarting, runtime.StatusPaused, runtime.StatusCreated, runtime.StatusRemoving:
		return true
	default:
		return false
	}
}

// Evaluate applies the rule order, in the order given: quarantine check,
// healthy skip, exited/exit-code handling, unhealthy health-check, custom
// probe, no-action skip, then the rate limiter (windowed count vs
// max_restarts, then cooldown) for whichever rule produced a restart
// candidate.
func Evaluate(in Input) Decision {
	snap := in.Snapshot
	cfg := in.Config

	// Rule 1.
	if in.Quarantined {
		return Decision{Action: ActionSkip, Reason: "quarantined"}
	}

	probeFailing := in.Probe.Configured && in.Probe.Retries > 0 && in.Probe.ConsecutiveFailures >= in.Probe.Retries
	unhealthy := snap.Status == runtime.StatusRunning && snap.Health == runtime.HealthUnhealthy

	// Rule 2.
	if isRunningLike(snap.Status) && !unhealthy && !probeFailing {
		return Decision{Action: ActionSkip, Reason: "healthy"}
	}

	// Rule 3.
	if snap.Status == runtime.StatusExited || snap.Status == runtime.StatusDead {
		if snap.ExitCode == 0 && cfg.Monitor.RespectManualStop {
			return Decision{Action: ActionSkip, Reason: "manual stop (exit 0)"}
		}
		if snap.ExitCode == 0 {
			return rateLimit(in, "stopped (exit 0)")
		}
		return rateLimit(in, fmt.Sprintf("exited with code %d", snap.ExitCode))
	}

	// Rule 4.
	if unhealthy && (cfg.Restart.Mode == store.RestartModeHealth || cfg.Restart.Mode == store.RestartModeBoth) {
		return rateLimit(in, "health=unhealthy")
	}

	// Rule 5.
	if probeFailing {
		return rateLimit(in, "custom probe failed")
	}

	// Rule 6.
	return Decision{Action: ActionSkip, Reason: "no action"}
}

// rateLimit applies rule 7: windowed count vs max_restarts, then cooldown.
func rateLimit(in Input, reason string) Decision {
	restart := in.Config.Restart

	if in.WindowedCount >= restart.MaxRestarts {
		return Decision{Action: ActionQuarantine, Reason: fmt.Sprintf("max_restarts (%d) exceeded within window: %s", restart.MaxRestarts, reason)}
	}

	if !in.LastRestart.IsZero() {
		cooldownUntil := in.LastRestart.Add(time.Duration(restart.CooldownSeconds) * time.Second)
		if time.Now().UTC().Before(cooldownUntil) {
			return Decision{Action: ActionSkip, Reason: "cooldown", NextAllowed: cooldownUntil}
		}
	}

	return Decision{Action: ActionRestart, Reason: reason}
}
