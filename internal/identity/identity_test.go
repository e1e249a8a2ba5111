package identity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/healctl/healctl/internal/identity"
	"github.com/healctl/healctl/internal/runtime"
)

func TestResolve_MonitoringIDTakesPriority(t *testing.T) {
	snap := runtime.Snapshot{
		ID:   "abcdef1234567890",
		Name: "/some-name",
		Labels: map[string]string{
			"monitoring.id":              "checkout-worker",
			"com.docker.compose.project": "shop",
			"com.docker.compose.service": "worker",
		},
	}
	assert.Equal(t, "checkout-worker", identity.Resolve(snap))
}

func TestResolve_ComposeProjectService(t *testing.T) {
	snap := runtime.Snapshot{
		ID:   "abcdef1234567890",
		Name: "/shop_worker_1",
		Labels: map[string]string{
			"com.docker.compose.project": "shop",
			"com.docker.compose.service": "worker",
		},
	}
	assert.Equal(t, "shop_worker", identity.Resolve(snap))
}

func TestResolve_NameStripsLeadingSlash(t *testing.T) {
	snap := runtime.Snapshot{ID: "abcdef1234567890", Name: "/app"}
	assert.Equal(t, "app", identity.Resolve(snap))
}

func TestResolve_FallsBackToEphemeralID(t *testing.T) {
	snap := runtime.Snapshot{ID: "abcdef1234567890"}
	assert.Equal(t, "abcdef1234567890", identity.Resolve(snap))
}

func TestResolve_StableAcrossRecreation(t *testing.T) {
	before := runtime.Snapshot{ID: "old-ephemeral-id", Name: "/svc"}
	after := runtime.Snapshot{ID: "new-ephemeral-id", Name: "/svc"}
	assert.Equal(t, identity.Resolve(before), identity.Resolve(after))
}
