package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSpeakerRoutes registers the speaker reference-table endpoints.
func RegisterSpeakerRoutes(r *gin.Engine, ctrl *Controllers) {
	g := r.Group("/api/speakers")
	g.GET("", ctrl.handleListSpeakers)
	g.POST("", ctrl.handleUpsertSpeaker)
}

// UpsertSpeakerRequest creates or refreshes one speaker by name.
type UpsertSpeakerRequest struct {
	Name         string `json:"name" binding:"required"`
	Constituency string `json:"constituency"`
	Party        string `json:"party"`
	Active       *bool  `json:"active"`
}

// handleListSpeakers lists the reference table; ?active=true filters to
// active rows.
func (ctrl *Controllers) handleListSpeakers(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	speakers, err := ctrl.store.Speakers(activeOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"speakers": speakers})
}

// handleUpsertSpeaker inserts or updates a speaker keyed by name.
func (ctrl *Controllers) handleUpsertSpeaker(c *gin.Context) {
	var req UpsertSpeakerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	speaker, err := ctrl.store.UpsertSpeaker(req.Name, req.Constituency, req.Party, active)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to upsert speaker: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, speaker)
}
