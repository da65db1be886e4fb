package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/warden/internal/api/middleware"
	"github.com/Wikid82/warden/internal/cerberus"
	"github.com/Wikid82/warden/internal/detector"
	"github.com/Wikid82/warden/internal/models"
	"github.com/Wikid82/warden/internal/services"
)

// SecurityHandler serves the block list and the security event ledger to
// privileged actors.
type SecurityHandler struct {
	admin  *services.BlockAdmin
	ledger *services.EventLedger
	guard  *services.InputGuard
}

// NewSecurityHandler wires the handler to the enforcement core.
func NewSecurityHandler(admin *services.BlockAdmin, ledger *services.EventLedger, guard *services.InputGuard) *SecurityHandler {
	return &SecurityHandler{admin: admin, ledger: ledger, guard: guard}
}

type addBlockRequest struct {
	IPAddress       string `json:"ip_address" binding:"required"`
	Reason          string `json:"reason"`
	DurationSeconds *int64 `json:"duration_seconds"`
}

type createEventRequest struct {
	Action    models.EventAction `json:"action" binding:"required"`
	Resource  string             `json:"resource"`
	Details   json.RawMessage    `json:"details"`
	RiskLevel models.RiskLevel   `json:"risk_level"`
}

// RejectAttack answers a request whose input tripped the detector. The
// response is the same whatever matched.
func RejectAttack(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": services.ErrAttackDetected.Error()})
}

func requestMeta(c *gin.Context) services.RequestMeta {
	meta := services.RequestMeta{
		IPAddress: cerberus.GetClientIP(c),
		UserAgent: c.Request.UserAgent(),
		Resource:  c.FullPath(),
	}
	if actor := middleware.GetActor(c); actor != "" {
		meta.ActorID = &actor
	}
	return meta
}

// ListBlocks handles GET /api/v1/security/blocks
func (h *SecurityHandler) ListBlocks(c *gin.Context) {
	listing, err := h.admin.ListBlocked(c.Request.Context())
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// AddBlock handles POST /api/v1/security/blocks
func (h *SecurityHandler) AddBlock(c *gin.Context) {
	var req addBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ip_address is required"})
		return
	}
	if err := h.guard.CheckFields(c.Request.Context(), requestMeta(c), map[string]string{"reason": req.Reason}); err != nil {
		RejectAttack(c)
		return
	}

	rec, err := h.admin.Block(c.Request.Context(), services.BlockRequest{
		IPAddress:       req.IPAddress,
		Reason:          detector.Sanitize(req.Reason),
		DurationSeconds: req.DurationSeconds,
		Actor:           middleware.GetActor(c),
		UserAgent:       c.Request.UserAgent(),
	})
	switch {
	case err == nil:
	case errors.Is(err, services.ErrAuditIncomplete):
		c.Header("Warning", `199 - "block applied, audit event not recorded"`)
	case errors.Is(err, services.ErrInvalidIPAddress), errors.Is(err, services.ErrInvalidDuration):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	default:
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// RemoveBlock handles DELETE /api/v1/security/blocks/:ip
func (h *SecurityHandler) RemoveBlock(c *gin.Context) {
	changed, err := h.admin.Unblock(c.Request.Context(), c.Param("ip"), middleware.GetActor(c))
	switch {
	case err == nil:
	case errors.Is(err, services.ErrAuditIncomplete):
		c.Header("Warning", `199 - "unblock applied, audit event not recorded"`)
	case errors.Is(err, services.ErrInvalidIPAddress):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	default:
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unblocked": changed})
}

// QueryEvents handles GET /api/v1/security/events
func (h *SecurityHandler) QueryEvents(c *gin.Context) {
	filter := services.EventFilter{
		RiskLevel: models.RiskLevel(c.Query("risk_level")),
		Action:    models.EventAction(c.Query("action")),
		IPAddress: c.Query("ip_address"),
		ActorID:   c.Query("actor_id"),
	}
	if s := c.Query("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		filter.Since = t
	}

	var page services.Page
	var err error
	if page.Limit, err = queryInt(c, "limit"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	if page.Offset, err = queryInt(c, "offset"); err != nil || page.Offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
		return
	}

	result, err := h.ledger.Query(c.Request.Context(), filter, page)
	if err != nil {
		if errors.Is(err, services.ErrInvalidRiskLevel) || errors.Is(err, services.ErrInvalidAction) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query events"})
		return
	}

	h.recordRead(c, filter, len(result.Events))

	c.JSON(http.StatusOK, gin.H{
		"events": result.Events,
		"pagination": gin.H{
			"total":    result.Total,
			"limit":    result.Limit,
			"offset":   result.Offset,
			"has_more": int64(result.Offset+len(result.Events)) < result.Total,
		},
	})
}

// recordRead notes who looked at the audit trail. It is best-effort.
func (h *SecurityHandler) recordRead(c *gin.Context, f services.EventFilter, n int) {
	filters := map[string]string{}
	if f.RiskLevel != "" {
		filters["risk_level"] = string(f.RiskLevel)
	}
	if f.Action != "" {
		filters["action"] = string(f.Action)
	}
	if f.IPAddress != "" {
		filters["ip_address"] = f.IPAddress
	}
	meta := requestMeta(c)
	_, _ = h.ledger.Append(c.Request.Context(), services.EventInput{
		ActorID:   meta.ActorID,
		Action:    models.ActionDataAccess,
		Resource:  meta.Resource,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Success:   true,
		RiskLevel: services.RiskFor(services.OutcomeRoutine),
		Details:   models.QueryDetails{Filters: filters, Results: n},
	})
}

// CreateEvent handles POST /api/v1/security/events
func (h *SecurityHandler) CreateEvent(c *gin.Context) {
	var req createEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action is required"})
		return
	}
	if req.RiskLevel == "" {
		req.RiskLevel = models.RiskMedium
	}
	meta := requestMeta(c)
	if err := h.guard.CheckFields(c.Request.Context(), meta, map[string]string{"resource": req.Resource}); err != nil {
		RejectAttack(c)
		return
	}

	var details interface{}
	if len(req.Details) > 0 {
		details = req.Details
	}
	id, err := h.ledger.Append(c.Request.Context(), services.EventInput{
		ActorID:   meta.ActorID,
		Action:    req.Action,
		Resource:  req.Resource,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Success:   true,
		RiskLevel: req.RiskLevel,
		Details:   details,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidRiskLevel),
			errors.Is(err, services.ErrInvalidAction),
			errors.Is(err, services.ErrInvalidDetails):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event could not be recorded"})
		}
		return
	}
	if id == "" {
		c.JSON(http.StatusAccepted, gin.H{"status": "dropped"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func queryInt(c *gin.Context, key string) (int, error) {
	s := c.Query(key)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func respondStoreError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrStoreUnavailable) {
		middleware.GetRequestLogger(c).WithError(err).Error("block store unavailable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "block store unavailable"})
		return
	}
	middleware.GetRequestLogger(c).WithError(err).Error("security request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

// AuthFailureRecorder records rejected admin requests in the ledger.
func AuthFailureRecorder(ledger *services.EventLedger) middleware.FailureRecorder {
	return func(c *gin.Context, actor, reason string) {
		in := services.EventInput{
			Action:    models.ActionLoginFailed,
			Resource:  c.Request.URL.Path,
			IPAddress: cerberus.GetClientIP(c),
			UserAgent: c.Request.UserAgent(),
			Success:   false,
			RiskLevel: services.RiskFor(services.OutcomeAuthFailure),
			Details:   map[string]string{"reason": reason},
		}
		if actor != "" {
			in.ActorID = &actor
		}
		if _, err := ledger.Append(c.Request.Context(), in); err != nil {
			middleware.GetRequestLogger(c).WithError(err).Warn("auth failure not recorded")
		}
	}
}
