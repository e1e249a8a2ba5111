package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/healctl/healctl/internal/store"
)

// MaintenanceView adds the derived elapsed duration the control surface
// promises on top of the store's raw Maintenance record.
type MaintenanceView struct {
	Enabled        bool       `json:"enabled"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	ElapsedSeconds float64    `json:"elapsed_seconds,omitempty"`
}

func (h *handlers) getMaintenance(c *gin.Context) {
	ok(c, http.StatusOK, maintenanceView(h.deps.Store.GetMaintenance()))
}

func (h *handlers) postMaintenance(c *gin.Context) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	maint := h.deps.Store.SetMaintenance(body.Enabled)

	kind := store.EventMaintenanceOff
	if body.Enabled {
		kind = store.EventMaintenanceOn
	}
	ev := store.Event{
		Timestamp: time.Now().UTC(), Kind: kind, Status: store.StatusInfo,
		Message: "maintenance toggled via control API",
	}
	h.deps.Store.AppendEvent(ev)
	if h.deps.Notifier != nil {
		h.deps.Notifier.Notify(ev)
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.SetMaintenance(body.Enabled)
	}

	ok(c, http.StatusOK, maintenanceView(maint))
}

func maintenanceView(m store.Maintenance) MaintenanceView {
	view := MaintenanceView{Enabled: m.Enabled, StartTime: m.StartTime}
	if m.Enabled && m.StartTime != nil {
		view.ElapsedSeconds = time.Since(*m.StartTime).Seconds()
	}
	return view
}
