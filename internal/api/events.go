package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/healctl/healctl/internal/store"
)

const defaultEventLimit = 100

var eventStreamUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (h *handlers) listEvents(c *gin.Context) {
	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	ok(c, http.StatusOK, h.deps.Store.GetEvents(limit))
}

func (h *handlers) appendEvent(c *gin.Context) {
	var ev store.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Status == "" {
		ev.Status = store.StatusInfo
	}

	h.deps.Store.AppendEvent(ev)
	ok(c, http.StatusCreated, ev)
}

func (h *handlers) clearEvents(c *gin.Context) {
	h.deps.Store.ClearEvents()
	c.Status(http.StatusNoContent)
}

// streamEvents tails newly appended events to the caller over a websocket.
// It never replays history; GET /api/events already serves that.
func (h *handlers) streamEvents(c *gin.Context) {
	conn, err := eventStreamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, unsubscribe := h.deps.Store.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
