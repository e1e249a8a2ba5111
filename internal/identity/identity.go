// Package identity derives the stable identifier used as the primary key
// for every piece of per-container state the core persists.
package identity

import (
	"strings"

	"github.com/healctl/healctl/internal/runtime"
)

const (
	monitoringIDLabel   = "monitoring.id"
	composeProjectLabel = "com.docker.compose.project"
	composeServiceLabel = "com.docker.compose.service"
)

// Resolve derives the stable id for a snapshot. Priority, first match wins:
// an explicit monitoring.id label, a compose project/service pair, the
// container name, and finally the long-form ephemeral id as a last resort.
func Resolve(snap runtime.Snapshot) string {
	if id := strings.TrimSpace(snap.Labels[monitoringIDLabel]); id != "" {
		return id
	}

	project := strings.TrimSpace(snap.Labels[composeProjectLabel])
	service := strings.TrimSpace(snap.Labels[composeServiceLabel])
	if project != "" && service != "" {
		return project + "_" + service
	}

	if name := strings.TrimPrefix(strings.TrimSpace(snap.Name), "/"); name != "" {
		return name
	}

	return snap.ID
}
