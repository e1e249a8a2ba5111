package policy_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/healctl/healctl/internal/policy"
	"github.com/healctl/healctl/internal/runtime"
	"github.com/healctl/healctl/internal/store"
)

func baseConfig() store.Config {
	cfg := store.DefaultConfig()
	cfg.Monitor.IntervalSeconds = 30
	cfg.Restart.Mode = store.RestartModeBoth
	cfg.Restart.CooldownSeconds = 60
	cfg.Restart.MaxRestarts = 3
	cfg.Restart.MaxRestartsWindowSeconds = 600
	cfg.Backoff.Enabled = false
	return cfg
}

func TestEvaluate_Quarantined(t *testing.T) {
	d := policy.Evaluate(policy.Input{Quarantined: true})
	assert.Equal(t, policy.ActionSkip, d.Action)
	assert.Equal(t, "quarantined", d.Reason)
}

func TestEvaluate_RunningHealthySkips(t *testing.T) {
	d := policy.Evaluate(policy.Input{
		Snapshot: runtime.Snapshot{Status: runtime.StatusRunning, Health: runtime.HealthHealthy},
		Config:   baseConfig(),
	})
	assert.Equal(t, policy.ActionSkip, d.Action)
	assert.Equal(t, "healthy", d.Reason)
}

func TestEvaluate_ManualStopRespected(t *testing.T) {
	cfg := baseConfig()
	cfg.Monitor.RespectManualStop = true
	d := policy.Evaluate(policy.Input{
		Snapshot: runtime.Snapshot{Status: runtime.StatusExited, ExitCode: 0},
		Config:   cfg,
	})
	assert.Equal(t, policy.ActionSkip, d.Action)
	assert.Equal(t, "manual stop (exit 0)", d.Reason)
}

func TestEvaluate_ExitedNonZeroCandidatesForRestart(t *testing.T) {
	d := policy.Evaluate(policy.Input{
		Snapshot: runtime.Snapshot{Status: runtime.StatusExited, ExitCode: 1},
		Config:   baseConfig(),
	})
	assert.Equal(t, policy.ActionRestart, d.Action)
	assert.Contains(t, d.Reason, "exited with code 1")
}

func TestEvaluate_UnhealthyModeOnFailureDoesNotTrigger(t *testing.T) {
	cfg := baseConfig()
	cfg.Restart.Mode = store.RestartModeOnFailure
	d := policy.Evaluate(policy.Input{
		Snapshot: runtime.Snapshot{Status: runtime.StatusRunning, Health: runtime.HealthUnhealthy},
		Config:   cfg,
	})
	assert.Equal(t, policy.ActionSkip, d.Action)
	assert.Equal(t, "no action", d.Reason)
}

func TestEvaluate_UnhealthyModeHealthTriggers(t *testing.T) {
	cfg := baseConfig()
	cfg.Restart.Mode = store.RestartModeHealth
	d := policy.Evaluate(policy.Input{
		Snapshot: runtime.Snapshot{Status: runtime.StatusRunning, Health: runtime.HealthUnhealthy},
		Config:   cfg,
	})
	assert.Equal(t, policy.ActionRestart, d.Action)
	assert.Equal(t, "health=unhealthy", d.Reason)
}

func TestEvaluate_CustomProbeFailureTriggers(t *testing.T) {
	d := policy.Evaluate(policy.Input{
		Snapshot: runtime.Snapshot{Status: runtime.StatusRunning, Health: runtime.HealthNone},
		Config:   baseConfig(),
		Probe:    policy.ProbeResult{Configured: true, Retries: 3, ConsecutiveFailures: 3},
	})
	assert.Equal(t, policy.ActionRestart, d.Action)
	assert.Equal(t, "custom probe failed", d.Reason)
}

func TestEvaluate_QuarantinesAtMaxRestarts(t *testing.T) {
	d := policy.Evaluate(policy.Input{
		Snapshot:      runtime.Snapshot{Status: runtime.StatusExited, ExitCode: 1},
		Config:        baseConfig(),
		WindowedCount: 3, // already at max_restarts
	})
	assert.Equal(t, policy.ActionQuarantine, d.Action)
}

func TestEvaluate_CooldownSkipsBeforeElapsed(t *testing.T) {
	d := policy.Evaluate(policy.Input{
		Snapshot:      runtime.Snapshot{Status: runtime.StatusExited, ExitCode: 1},
		Config:        baseConfig(),
		WindowedCount: 1,
		LastRestart:   time.Now().UTC(),
	})
	assert.Equal(t, policy.ActionSkip, d.Action)
	assert.Equal(t, "cooldown", d.Reason)
	assert.True(t, d.NextAllowed.After(time.Now().UTC()))
}

// Scenario 6: exponential-backoff retry-loop detection. With these settings
// the cumulative backoff+cooldown+tick cost of reaching max_restarts
// exceeds the sliding window, so the engine never quarantines.
func TestValidateConfig_DetectsUnreachableQuarantine(t *testing.T) {
	cfg := store.DefaultConfig()
	cfg.Monitor.IntervalSeconds = 30
	cfg.Restart.MaxRestarts = 5
	cfg.Restart.MaxRestartsWindowSeconds = 600
	cfg.Restart.CooldownSeconds = 60
	cfg.Backoff.Enabled = true
	cfg.Backoff.InitialSeconds = 10
	cfg.Backoff.Multiplier = 2.0
	cfg.Backoff.MaxSeconds = 0

	warnings, err := policy.ValidateConfig(cfg)
	assert.NoError(t, err)
	assert.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "will not quarantine within window")
}

func TestValidateConfig_RejectsBadMode(t *testing.T) {
	cfg := store.DefaultConfig()
	cfg.Restart.Mode = "bogus"
	_, err := policy.ValidateConfig(cfg)
	assert.Error(t, err)
}
