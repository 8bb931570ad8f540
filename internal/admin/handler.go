package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"insurance-bot/internal/extract"
	"insurance-bot/internal/registration"
	"insurance-bot/internal/shared/server/middleware"
	"insurance-bot/internal/shared/server/respond"
	"insurance-bot/internal/shared/telemetry"
	"insurance-bot/internal/store"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
	recentErrors      = 5
)

// Reports is the read side of the store used by operators.
type Reports interface {
	RecentAuditLogs(ctx context.Context, limit int) ([]registration.AuditLog, error)
	RecentErrorLogs(ctx context.Context, limit int) ([]registration.ErrorLog, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// Handler serves the operator endpoints.
type Handler struct {
	Reports Reports
	Modes   *extract.ModeSwitch
}

// NewHandler constructs a Handler.
func NewHandler(reports Reports, modes *extract.ModeSwitch) *Handler {
	return &Handler{Reports: reports, Modes: modes}
}

// RegisterRoutes attaches admin routes behind RequireAdmin.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, verifier middleware.TokenVerifier) {
	g := rg.Group("/admin", middleware.RequireAdmin(verifier))
	g.GET("/audit-logs", h.auditLogs)
	g.GET("/errors", h.errors)
	g.GET("/stats", h.stats)
	g.GET("/extraction-mode", h.extractionMode)
	g.PUT("/extraction-mode", h.setExtractionMode)
}

type auditLogResponse struct {
	ID        string          `json:"id"`
	Table     string          `json:"table"`
	RecordID  string          `json:"recordId"`
	Action    string          `json:"action"`
	Changes   json.RawMessage `json:"changes,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

type errorLogResponse struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Trace     string    `json:"trace,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *Handler) auditLogs(c *gin.Context) {
	limit := defaultAuditLimit
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			respond.Error(c, http.StatusBadRequest, "validation_error", "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	rows, err := h.Reports.RecentAuditLogs(c.Request.Context(), limit)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load audit logs", nil)
		return
	}
	resp := make([]auditLogResponse, 0, len(rows))
	for _, r := range rows {
		resp = append(resp, auditLogResponse{
			ID:        r.ID,
			Table:     r.TableName,
			RecordID:  r.RecordID,
			Action:    r.Action,
			Changes:   json.RawMessage(r.Changes),
			CreatedAt: r.CreatedAt,
		})
	}
	respond.OK(c, resp)
}

func (h *Handler) errors(c *gin.Context) {
	var (
		logs  []registration.ErrorLog
		stats store.Stats
	)
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error {
		var err error
		logs, err = h.Reports.RecentErrorLogs(ctx, recentErrors)
		return err
	})
	g.Go(func() error {
		var err error
		stats, err = h.Reports.Stats(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load errors", nil)
		return
	}

	recent := make([]errorLogResponse, 0, len(logs))
	for _, e := range logs {
		recent = append(recent, errorLogResponse{ID: e.ID, Message: e.Message, Trace: e.Trace, CreatedAt: e.CreatedAt})
	}
	respond.OK(c, gin.H{
		"recent":         recent,
		"failedPolicies": stats.PoliciesFailed,
	})
}

func (h *Handler) stats(c *gin.Context) {
	st, err := h.Reports.Stats(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load stats", nil)
		return
	}
	respond.OK(c, st)
}

func (h *Handler) extractionMode(c *gin.Context) {
	respond.OK(c, gin.H{"mode": h.Modes.Mode()})
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

func (h *Handler) setExtractionMode(c *gin.Context) {
	var req setModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	mode, err := extract.ParseMode(req.Mode)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}
	prev := h.Modes.Set(mode)
	telemetry.Info("admin.extraction_mode_changed", map[string]any{
		"operator": middleware.OperatorFromContext(c),
		"from":     string(prev),
		"to":       string(mode),
	})
	respond.OK(c, gin.H{"mode": mode, "previous": prev})
}
