package store

import "time"

// RestartMode selects which signals the policy evaluator treats as restart
// candidates: exit-based, health-check-based, or both.
type RestartMode string

const (
	RestartModeOnFailure RestartMode = "on-failure"
	RestartModeHealth    RestartMode = "health"
	RestartModeBoth      RestartMode = "both"
)

// MonitorConfig controls the tick interval and auto-monitor label filter.
type MonitorConfig struct {
	IntervalSeconds   int    `json:"interval_seconds" validate:"min=1"`
	LabelKey          string `json:"label_key"`
	LabelValue        string `json:"label_value"`
	IncludeAll        bool   `json:"include_all"`
	RespectManualStop bool   `json:"respect_manual_stop"`
}

// RestartConfig controls rate-limiting and which signals trigger a restart.
type RestartConfig struct {
	Mode                     RestartMode `json:"mode" validate:"oneof=on-failure health both"`
	CooldownSeconds          int         `json:"cooldown_seconds" validate:"min=0"`
	MaxRestarts              int         `json:"max_restarts" validate:"min=1"`
	MaxRestartsWindowSeconds int         `json:"max_restarts_window_seconds" validate:"min=1"`
}

// BackoffConfig controls the pre-restart delay that grows with consecutive
// restarts of the same stable id.
type BackoffConfig struct {
	Enabled        bool    `json:"enabled"`
	InitialSeconds float64 `json:"initial_seconds" validate:"min=0"`
	Multiplier     float64 `json:"multiplier" validate:"min=1"`
	MaxSeconds     float64 `json:"max_seconds"` // 0 means unbounded
}

// ObservabilityConfig controls logging and metrics.
type ObservabilityConfig struct {
	LogLevel           string `json:"log_level" validate:"oneof=debug info warn error"`
	LogFormat          string `json:"log_format" validate:"oneof=text json"`
	MetricsEnabled     bool   `json:"metrics_enabled"`
	HostMetricsEnabled bool   `json:"host_metrics_enabled"`
}

// UIConfig controls the web UI's refresh interval and the event log's
// capacity: MaxLogEntries bounds the store's event log.
type UIConfig struct {
	RefreshIntervalSeconds int `json:"refresh_interval_seconds" validate:"min=1"`
	MaxLogEntries          int `json:"max_log_entries" validate:"min=1"`
}

// ProbeKind is the kind of custom health probe configured for a container.
type ProbeKind string

const (
	ProbeNone ProbeKind = "none"
	ProbeHTTP ProbeKind = "http"
	ProbeTCP  ProbeKind = "tcp"
	ProbeExec ProbeKind = "exec"
)

// Probe is a custom health-check definition for one stable id.
type Probe struct {
	Kind            ProbeKind `json:"kind"`
	URL             string    `json:"url,omitempty"`
	ExpectedStatus  int       `json:"expected_status,omitempty"`
	Host            string    `json:"host,omitempty"`
	Port            int       `json:"port,omitempty"`
	Argv            []string  `json:"argv,omitempty"`
	ExpectedCode    int       `json:"expected_code,omitempty"`
	TimeoutSeconds  int       `json:"timeout_seconds" validate:"min=1"`
	Retries         int       `json:"retries" validate:"min=1"`
	IntervalSeconds int       `json:"interval_seconds" validate:"min=1"`
}

// Config is the whole-document, replaceable configuration record.
type Config struct {
	Monitor       MonitorConfig       `json:"monitor"`
	Restart       RestartConfig       `json:"restart"`
	Backoff       BackoffConfig       `json:"backoff"`
	Observability ObservabilityConfig `json:"observability"`
	UI            UIConfig            `json:"ui"`
}

// DefaultConfig returns the configuration a fresh data directory starts with.
func DefaultConfig() Config {
	return Config{
		Monitor: MonitorConfig{
			IntervalSeconds:   30,
			LabelKey:          "autoheal",
			LabelValue:        "true",
			IncludeAll:        false,
			RespectManualStop: true,
		},
		Restart: RestartConfig{
			Mode:                     RestartModeBoth,
			CooldownSeconds:          60,
			MaxRestarts:              3,
			MaxRestartsWindowSeconds: 600,
		},
		Backoff: BackoffConfig{
			Enabled:        true,
			InitialSeconds: 10,
			Multiplier:     2.0,
			MaxSeconds:     300,
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			LogFormat:      "text",
			MetricsEnabled: true,
		},
		UI: UIConfig{
			RefreshIntervalSeconds: 10,
			MaxLogEntries:          500,
		},
	}
}

// EventKind enumerates the kinds of event the store's bounded log records.
type EventKind string

const (
	EventRestart           EventKind = "restart"
	EventQuarantine        EventKind = "quarantine"
	EventUnquarantine      EventKind = "unquarantine"
	EventAutoMonitor       EventKind = "auto_monitor"
	EventHealthCheckFailed EventKind = "health_check_failed"
	EventMaintenanceOn     EventKind = "maintenance_on"
	EventMaintenanceOff    EventKind = "maintenance_off"
	EventManualRestart     EventKind = "manual_restart"
	EventClear             EventKind = "clear"
)

// EventStatus is the outcome recorded alongside an event.
type EventStatus string

const (
	StatusSuccess EventStatus = "success"
	StatusFailure EventStatus = "failure"
	StatusSkipped EventStatus = "skipped"
	StatusInfo    EventStatus = "info"
)

// Event is one entry in the bounded, FIFO-evicted event log.
type Event struct {
	ID           string      `json:"id"`
	Timestamp    time.Time   `json:"timestamp"`
	StableID     string      `json:"stable_id"`
	EphemeralID  string      `json:"ephemeral_id,omitempty"`
	Kind         EventKind   `json:"kind"`
	Status       EventStatus `json:"status"`
	RestartCount int         `json:"restart_count"`
	Message      string      `json:"message,omitempty"`
}

// RestartRecord is the per-stable-id restart bookkeeping used for both the
// rate limiter (the timestamp list) and display (the total). The total is
// stored explicitly rather than derived from the list length, so a
// truncated or corrupted timestamp list can never make the displayed total
// go backwards.
type RestartRecord struct {
	Total      int         `json:"total"`
	Timestamps []time.Time `json:"timestamps"`
}

// Maintenance is the sticky maintenance-mode flag plus the time it was last
// turned on.
type Maintenance struct {
	Enabled   bool       `json:"enabled"`
	StartTime *time.Time `json:"start_time"`
}
