package quota

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loftdrive/loft/internal/auth"
)

// RegisterRoutes mounts quota endpoints. The per-user patch is admin-only.
func RegisterRoutes(group *gin.RouterGroup, ledger *Ledger) {
	handler := &httpHandler{ledger: ledger}
	group.GET("/stats", handler.ownStats)
	group.GET("/stats/:user", handler.userStats)
	group.PATCH("/stats/:user", handler.patchStats)
}

type httpHandler struct {
	ledger *Ledger
}

func (h *httpHandler) ownStats(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	stats, err := h.ledger.GetUserStats(c.Request.Context(), user.Username)
	if err != nil {
		if errors.Is(err, ErrStatsNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "stats not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *httpHandler) userStats(c *gin.Context) {
	caller, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	target := c.Param("user")
	if target != caller.Username && !caller.IsAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	stats, err := h.ledger.GetUserStats(c.Request.Context(), target)
	if err != nil {
		if errors.Is(err, ErrStatsNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "stats not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// patchStats is the administrative absolute-set of one or more counters.
func (h *httpHandler) patchStats(c *gin.Context) {
	caller, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if !caller.IsAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	var patch StatsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if patch.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no counters to update"})
		return
	}

	stats, err := h.ledger.UpdateStorage(c.Request.Context(), c.Param("user"), patch)
	if err != nil {
		if errors.Is(err, ErrStatsNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "stats not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}
