package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/healctl/healctl/internal/store"
)

func (h *handlers) getProbe(c *gin.Context) {
	stableID := h.stableIDParam(c)
	probe, found := h.deps.Store.GetProbe(stableID)
	if !found {
		fail(c, http.StatusNotFound, errors.New("no probe configured for "+stableID))
		return
	}
	ok(c, http.StatusOK, probe)
}

func (h *handlers) putProbe(c *gin.Context) {
	stableID := h.stableIDParam(c)

	var probe store.Probe
	if err := c.ShouldBindJSON(&probe); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	h.deps.Store.SetProbe(stableID, probe)
	ok(c, http.StatusOK, probe)
}

func (h *handlers) deleteProbe(c *gin.Context) {
	stableID := h.stableIDParam(c)
	h.deps.Store.DeleteProbe(stableID)
	c.Status(http.StatusNoContent)
}
