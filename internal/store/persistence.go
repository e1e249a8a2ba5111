package store

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	configFileName        = "config.json"
	eventsFileName        = "events.json"
	restartCountsFileName = "restart_counts.json"
	quarantineFileName    = "quarantine.json"
	maintenanceFileName   = "maintenance.json"

	filePerm = 0o644
)

// configDocument is the on-disk shape of config.json: the configuration
// groups plus selection sets, legacy restart-count compat, and custom
// probes, all in one whole-document-replaceable file.
type configDocument struct {
	Monitor            MonitorConfig       `json:"monitor"`
	Restart            RestartConfig       `json:"restart"`
	Backoff            BackoffConfig       `json:"backoff"`
	Observability      ObservabilityConfig `json:"observability"`
	UI                 UIConfig            `json:"ui"`
	Containers         containersDocument  `json:"containers"`
	CustomHealthChecks map[string]Probe    `json:"custom_health_checks"`
}

type containersDocument struct {
	Selected      []string       `json:"selected"`
	Excluded      []string       `json:"excluded"`
	RestartCounts map[string]int `json:"restart_counts"`
}

type maintenanceDocument struct {
	Enabled   bool       `json:"enabled"`
	StartTime *time.Time `json:"start_time"`
}

// writeJSONAtomic serializes v to a temp file in dir and renames it over
// path, so readers never observe a partially written document.
func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, filePerm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// readJSONBestEffort loads path into v. A missing or corrupt file leaves v
// untouched (the caller's zero value stands as the default) and logs once;
// the next successful write repairs the file on disk.
func readJSONBestEffort(path string, v any) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("store: failed to read persisted file, using default", "path", path, "error", err)
		return
	}
	if len(data) == 0 {
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		slog.Warn("store: persisted file is corrupt, using default", "path", path, "error", err)
	}
}
