package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/healctl/healctl/internal/store"
)

func (h *handlers) getConfig(c *gin.Context) {
	ok(c, http.StatusOK, h.deps.Store.GetConfig())
}

func (h *handlers) putConfig(c *gin.Context) {
	cfg := h.deps.Store.GetConfig()
	if err := c.ShouldBindJSON(&cfg); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	h.applyConfig(c, cfg)
}

// getConfigGroup and putConfigGroup let the control surface read or replace
// a single configuration group (monitor, restart, backoff, observability,
// ui) without resending the whole document.
func (h *handlers) getConfigGroup(c *gin.Context) {
	cfg := h.deps.Store.GetConfig()
	group, err := configGroup(cfg, c.Param("group"))
	if err != nil {
		fail(c, http.StatusNotFound, err)
		return
	}
	ok(c, http.StatusOK, group)
}

func (h *handlers) putConfigGroup(c *gin.Context) {
	cfg := h.deps.Store.GetConfig()
	name := c.Param("group")

	switch name {
	case "monitor":
		if err := c.ShouldBindJSON(&cfg.Monitor); err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
	case "restart":
		if err := c.ShouldBindJSON(&cfg.Restart); err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
	case "backoff":
		if err := c.ShouldBindJSON(&cfg.Backoff); err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
	case "observability":
		if err := c.ShouldBindJSON(&cfg.Observability); err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
	case "ui":
		if err := c.ShouldBindJSON(&cfg.UI); err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
	default:
		fail(c, http.StatusNotFound, errors.New("unknown config group: "+name))
		return
	}

	h.applyConfig(c, cfg)
}

func (h *handlers) applyConfig(c *gin.Context, cfg store.Config) {
	warnings, err := h.deps.Store.SetConfig(cfg)
	if err != nil {
		fail(c, http.StatusUnprocessableEntity, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"config": cfg, "warnings": warnings})
}

func configGroup(cfg store.Config, name string) (any, error) {
	switch name {
	case "monitor":
		return cfg.Monitor, nil
	case "restart":
		return cfg.Restart, nil
	case "backoff":
		return cfg.Backoff, nil
	case "observability":
		return cfg.Observability, nil
	case "ui":
		return cfg.UI, nil
	default:
		return nil, errors.New("unknown config group: " + name)
	}
}

func (h *handlers) exportConfig(c *gin.Context) {
	data, err := h.deps.Store.ExportConfig()
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

func (h *handlers) importConfig(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err := h.deps.Store.ImportConfig(data); err != nil {
		fail(c, http.StatusUnprocessableEntity, err)
		return
	}
	ok(c, http.StatusOK, h.deps.Store.GetConfig())
}
