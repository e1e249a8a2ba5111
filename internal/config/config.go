// Package config loads the process-level settings healctld needs before it
// can even open the state store: where data lives, what to bind to, and how
// to reach the container runtime. This is distinct from store.Config, the
// hot-reloadable domain configuration the control surface manages.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Config is the settings healctld needs at startup.
type Config struct {
	DataDir     string
	BindAddr    string
	MetricsAddr string
	DockerHost  string
	NotifyURLs  []string
}

// Load resolves settings with precedence flag > env > .env file > default,
// exactly as documented for the CLI surface. flags is the already-parsed
// flag set for the invoked command; pass nil to resolve purely from the
// environment.
func Load(flags *pflag.FlagSet) (Config, error) {
	_ = godotenv.Load() // optional: missing .env is not an error

	cfg := Config{
		DataDir:     firstNonEmpty(flagString(flags, "data-dir"), os.Getenv("HEALCTL_DATA_DIR"), "/var/lib/healctl"),
		BindAddr:    firstNonEmpty(flagString(flags, "bind-addr"), os.Getenv("HEALCTL_BIND_ADDR"), ":8980"),
		MetricsAddr: firstNonEmpty(flagString(flags, "metrics-addr"), os.Getenv("HEALCTL_METRICS_ADDR"), ":9980"),
		DockerHost:  firstNonEmpty(flagString(flags, "docker-host"), os.Getenv("DOCKER_HOST"), ""),
		NotifyURLs:  splitNonEmpty(os.Getenv("HEALCTL_NOTIFY_URLS"), ","),
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return Config{}, fmt.Errorf("config: data directory %q unwritable: %w", cfg.DataDir, err)
	}

	return cfg, nil
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func flagString(flags *pflag.FlagSet, name string) string {
	if flags == nil {
		return ""
	}
	v, err := flags.GetString(name)
	if err != nil {
		return ""
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
