package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vigil-ops/vigil/internal/alerting"
	"github.com/vigil-ops/vigil/internal/incident"
	apperrors "github.com/vigil-ops/vigil/pkg/errors"
)

type handlers struct {
	deps Deps
}

func (h *handlers) getHealth(c *gin.Context) {
	snap := h.deps.Health.Last()
	status := http.StatusOK
	if !snap.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"healthy":  snap.Healthy,
		"version":  h.deps.Version,
		"uptime":   snap.Uptime.String(),
		"checks":   snap.Checks,
		"metrics":  snap.Metrics,
		"failures": snap.ConsecutiveFailures,
	})
}

func (h *handlers) getLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (h *handlers) getReady(c *gin.Context) {
	if !h.deps.Health.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *handlers) listBreakers(c *gin.Context) {
	stats := h.deps.Breakers.Stats()
	resp := gin.H{"breakers": stats}
	if h.deps.States != nil {
		shared := make(map[string]string, len(stats))
		for name := range stats {
			state, err := h.deps.States.GetBreakerState(c.Request.Context(), name)
			if err != nil || state == "" {
				continue
			}
			shared[name] = state
		}
		resp["shared_states"] = shared
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) resetBreaker(c *gin.Context) {
	name := c.Param("name")
	b, ok := h.deps.Breakers.Get(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "breaker not found"})
		return
	}
	b.Reset()
	c.JSON(http.StatusOK, gin.H{"breaker": name, "state": b.State().String()})
}

func (h *handlers) listAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alerts": h.deps.Alerts.ActiveAlerts()})
}

type createAlertRequest struct {
	Type     string                 `json:"type" binding:"required"`
	Severity string                 `json:"severity"`
	Title    string                 `json:"title" binding:"required"`
	Message  string                 `json:"message"`
	Metadata map[string]interface{} `json:"metadata"`
}

func (h *handlers) createAlert(c *gin.Context) {
	var req createAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	alert := h.deps.Alerts.CreateAlert(alerting.Alert{
		Type:     req.Type,
		Severity: alerting.Severity(req.Severity),
		Title:    req.Title,
		Message:  req.Message,
		Metadata: req.Metadata,
	})
	c.JSON(http.StatusCreated, alert)
}

type actorRequest struct {
	By string `json:"by"`
}

func (h *handlers) acknowledgeAlert(c *gin.Context) {
	var req actorRequest
	_ = c.ShouldBindJSON(&req)
	if req.By == "" {
		req.By = "api"
	}

	if !h.deps.Alerts.AcknowledgeAlert(c.Param("id"), req.By) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"acknowledged": true})
}

func (h *handlers) resolveAlert(c *gin.Context) {
	var req actorRequest
	_ = c.ShouldBindJSON(&req)
	if req.By == "" {
		req.By = "api"
	}

	if !h.deps.Alerts.ResolveAlert(c.Param("id"), req.By) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": true})
}

func (h *handlers) listIncidents(c *gin.Context) {
	if c.Query("all") == "true" {
		c.JSON(http.StatusOK, gin.H{"incidents": h.deps.Incidents.AllIncidents()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": h.deps.Incidents.ActiveIncidents()})
}

type createIncidentRequest struct {
	Title       string                 `json:"title" binding:"required"`
	Description string                 `json:"description"`
	Severity    string                 `json:"severity" binding:"required"`
	Metadata    map[string]interface{} `json:"metadata"`
}

func (h *handlers) createIncident(c *gin.Context) {
	var req createIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inc := h.deps.Incidents.CreateIncident(req.Title, req.Description, req.Severity, req.Metadata)
	c.JSON(http.StatusCreated, inc)
}

func (h *handlers) acknowledgeIncident(c *gin.Context) {
	var req actorRequest
	_ = c.ShouldBindJSON(&req)
	if req.By == "" {
		req.By = "api"
	}

	if err := h.deps.Incidents.AcknowledgeIncident(c.Param("id"), req.By); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"acknowledged": true})
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
	By     string `json:"by"`
}

func (h *handlers) updateIncidentStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.deps.Incidents.UpdateIncidentStatus(c.Param("id"), incident.Status(req.Status), req.By); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}

func (h *handlers) escalateIncident(c *gin.Context) {
	var req actorRequest
	_ = c.ShouldBindJSON(&req)
	if req.By == "" {
		req.By = "api"
	}

	if err := h.deps.Incidents.EscalateIncident(c.Param("id"), req.By); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escalated": true})
}

func (h *handlers) getScalingStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Scaling.Status())
}

// respondError maps application error types onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperrors.GetType(err) {
	case apperrors.ErrorTypeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrorTypeValidation:
		status = http.StatusBadRequest
	case apperrors.ErrorTypeInvariant:
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
