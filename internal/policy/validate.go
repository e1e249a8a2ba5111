package policy

import (
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"

	"github.com/healctl/healctl/internal/store"
)

var structValidate = validator.New(validator.WithRequiredStructEnabled())

// ValidateConfig runs struct-tag validation and the steady-state restart
// cadence simulator against cfg. A non-nil error means the configuration is
// rejected outright (config_validation_error); a nil error with non-empty
// warnings means the mutation is accepted but surfaced to the caller, e.g.
// "will not quarantine within window" when backoff, cooldown, and the tick
// interval combine to keep a permanently failing container under
// max_restarts forever.
func ValidateConfig(cfg store.Config) (warnings []string, err error) {
	if err := structValidate.Struct(cfg); err != nil {
		return nil, err
	}

	if w := simulateSteadyState(cfg); w != "" {
		warnings = append(warnings, w)
	}
	return warnings, nil
}

// simulateSteadyState computes the wall-clock cost of max_restarts
// consecutive restarts of a permanently failing container (tick + backoff +
// cooldown per attempt) and compares it against the sliding window. If the
// cumulative time to reach max_restarts exceeds the window, the rate
// limiter's windowed count never reaches max_restarts and the engine will
// retry indefinitely instead of quarantining.
func simulateSteadyState(cfg store.Config) string {
	restart := cfg.Restart
	backoff := cfg.Backoff
	tick := float64(cfg.Monitor.IntervalSeconds)
	window := float64(restart.MaxRestartsWindowSeconds)

	var elapsed float64
	for n := 0; n < restart.MaxRestarts; n++ {
		delay := BackoffDelay(backoff, n)
		elapsed += tick + delay + float64(restart.CooldownSeconds)
		if elapsed > window {
			return fmt.Sprintf(
				"will not quarantine within window: reaching max_restarts (%d) takes ~%.0fs, longer than the %ds sliding window; this configuration retries indefinitely instead of quarantining",
				restart.MaxRestarts, elapsed, restart.MaxRestartsWindowSeconds,
			)
		}
	}
	return ""
}

// BackoffDelay is the delay for the n-th (0-based) consecutive restart of a
// stable id: disabled means zero delay; otherwise initial*multiplier^n
// capped at max_seconds (0 means unbounded). Shared by the steady-state
// simulator above and the healing scheduler, so the two can never disagree
// about what a given configuration actually does.
func BackoffDelay(cfg store.BackoffConfig, n int) float64 {
	if !cfg.Enabled {
		return 0
	}
	delay := cfg.InitialSeconds * math.Pow(cfg.Multiplier, float64(n))
	if cfg.MaxSeconds > 0 && delay > cfg.MaxSeconds {
		return cfg.MaxSeconds
	}
	return delay
}
