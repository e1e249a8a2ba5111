package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/healctl/healctl/internal/identity"
	"github.com/healctl/healctl/internal/runtime"
	"github.com/healctl/healctl/internal/store"
)

// ContainerView is one entry in GET /api/containers, the runtime snapshot
// joined with the store's membership and restart bookkeeping.
type ContainerView struct {
	StableID      string            `json:"stable_id"`
	EphemeralID   string            `json:"ephemeral_id"`
	Name          string            `json:"name"`
	Status        string            `json:"status"`
	Health        string            `json:"health"`
	Labels        map[string]string `json:"labels,omitempty"`
	Monitored     bool              `json:"monitored"`
	Quarantined   bool              `json:"quarantined"`
	TotalRestarts int               `json:"total_restarts"`
	WindowedCount int               `json:"windowed_restarts"`
	LastRestart   *time.Time        `json:"last_restart,omitempty"`
}

func (h *handlers) listContainers(c *gin.Context) {
	snapshots, err := h.deps.Adapter.List(c.Request.Context(), true)
	if err != nil {
		fail(c, http.StatusServiceUnavailable, err)
		return
	}

	cfg := h.deps.Store.GetConfig()
	window := time.Duration(cfg.Restart.MaxRestartsWindowSeconds) * time.Second

	views := make([]ContainerView, 0, len(snapshots))
	for _, snap := range snapshots {
		views = append(views, h.toView(snap, cfg, window))
	}

	ok(c, http.StatusOK, views)
}

func (h *handlers) getContainer(c *gin.Context) {
	id := c.Param("id")
	snap, stableID, err := h.resolveSnapshot(c, id)
	if err != nil {
		fail(c, http.StatusNotFound, err)
		return
	}

	cfg := h.deps.Store.GetConfig()
	window := time.Duration(cfg.Restart.MaxRestartsWindowSeconds) * time.Second
	view := h.toView(snap, cfg, window)
	view.StableID = stableID

	ok(c, http.StatusOK, view)
}

func (h *handlers) toView(snap runtime.Snapshot, cfg store.Config, window time.Duration) ContainerView {
	stableID := identity.Resolve(snap)
	selected, excluded, quarantined := h.deps.Store.MembershipOf(stableID)
	monitored := !excluded && (cfg.Monitor.IncludeAll || selected || (cfg.Monitor.LabelKey != "" && snap.Labels[cfg.Monitor.LabelKey] == cfg.Monitor.LabelValue))

	windowed, lastRestart := h.deps.Store.GetWindowedRestarts(stableID, window)
	view := ContainerView{
		StableID:      stableID,
		EphemeralID:   snap.ID,
		Name:          snap.Name,
		Status:        string(snap.Status),
		Health:        string(snap.Health),
		Labels:        snap.Labels,
		Monitored:     monitored,
		Quarantined:   quarantined,
		TotalRestarts: h.deps.Store.GetTotalRestarts(stableID),
		WindowedCount: windowed,
	}
	if !lastRestart.IsZero() {
		view.LastRestart = &lastRestart
	}
	return view
}

// resolveSnapshot accepts either a stable id or an ephemeral/short id: it
// first tries the runtime directly (works for ephemeral ids), then falls
// back to scanning the live list for a matching stable id.
func (h *handlers) resolveSnapshot(c *gin.Context, id string) (runtime.Snapshot, string, error) {
	if snap, err := h.deps.Adapter.Inspect(c.Request.Context(), id); err == nil {
		return snap, identity.Resolve(snap), nil
	}

	snapshots, err := h.deps.Adapter.List(c.Request.Context(), true)
	if err != nil {
		return runtime.Snapshot{}, "", err
	}
	for _, snap := range snapshots {
		if identity.Resolve(snap) == id {
			return snap, id, nil
		}
	}
	return runtime.Snapshot{}, "", fmt.Errorf("container %q: %w", id, runtime.ErrNotFound)
}

func (h *handlers) selectContainers(c *gin.Context) {
	h.membershipMutation(c, h.deps.Store.Select, h.deps.Store.Deselect)
}

func (h *handlers) excludeContainers(c *gin.Context) {
	h.membershipMutation(c, h.deps.Store.Exclude, h.deps.Store.Unexclude)
}

// membershipMutation resolves each submitted id (stable or ephemeral) to its
// stable form and applies add or, when the body asks for it, remove.
func (h *handlers) membershipMutation(c *gin.Context, add, remove func(ids ...string)) {
	var body struct {
		IDs    []string `json:"ids" binding:"required"`
		Remove bool     `json:"remove"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	resolved := make([]string, 0, len(body.IDs))
	for _, id := range body.IDs {
		if snap, err := h.deps.Adapter.Inspect(c.Request.Context(), id); err == nil {
			resolved = append(resolved, identity.Resolve(snap))
		} else {
			resolved = append(resolved, id)
		}
	}

	if body.Remove {
		remove(resolved...)
	} else {
		add(resolved...)
	}
	ok(c, http.StatusOK, gin.H{"ids": resolved})
}

func (h *handlers) unquarantine(c *gin.Context) {
	stableID := h.stableIDParam(c)
	h.deps.Store.Unquarantine(stableID)
	h.deps.Store.AppendEvent(store.Event{
		Timestamp: time.Now().UTC(), StableID: stableID,
		Kind: store.EventUnquarantine, Status: store.StatusInfo,
		RestartCount: h.deps.Store.GetTotalRestarts(stableID),
		Message:      "unquarantined via control API",
	})
	ok(c, http.StatusOK, gin.H{"stable_id": stableID})
}

// manualRestart bypasses maintenance and cooldown, per the control-surface
// contract, but still records a timestamp against the rate limiter and
// still goes through a single runtime call for this id.
func (h *handlers) manualRestart(c *gin.Context) {
	id := c.Param("id")
	snap, stableID, err := h.resolveSnapshot(c, id)
	if err != nil {
		fail(c, http.StatusNotFound, err)
		return
	}

	restartErr := h.deps.Adapter.Restart(c.Request.Context(), snap.ID, defaultRestartTimeout)
	now := time.Now().UTC()
	h.deps.Store.RecordRestart(stableID, now)

	status := store.StatusSuccess
	message := "manual restart via control API"
	if restartErr != nil {
		status = store.StatusFailure
		message = message + ": " + restartErr.Error()
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.RecordRestart(stableID, string(status))
	}

	ev := store.Event{
		Timestamp: now, StableID: stableID, EphemeralID: snap.ID,
		Kind: store.EventManualRestart, Status: status,
		RestartCount: h.deps.Store.GetTotalRestarts(stableID), Message: message,
	}
	h.deps.Store.AppendEvent(ev)
	if h.deps.Notifier != nil {
		h.deps.Notifier.Notify(ev)
	}

	if restartErr != nil {
		fail(c, http.StatusBadGateway, restartErr)
		return
	}
	ok(c, http.StatusOK, gin.H{"stable_id": stableID})
}

func (h *handlers) stableIDParam(c *gin.Context) string {
	id := c.Param("id")
	if snap, err := h.deps.Adapter.Inspect(c.Request.Context(), id); err == nil {
		return identity.Resolve(snap)
	}
	return id
}
