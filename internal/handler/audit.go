package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openfilz/openfilz-core-sub000/internal/auditchain"
	"github.com/openfilz/openfilz-core-sub000/internal/identity"
)

// AuditHandler exposes the audit chain over HTTP.
type AuditHandler struct {
	appender  *auditchain.Appender
	query     *auditchain.QueryService
	verifier  *auditchain.Verifier
	scheduler *auditchain.Scheduler
	tokens    *identity.TokenIssuer
	logger    *zap.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(appender *auditchain.Appender, query *auditchain.QueryService, verifier *auditchain.Verifier, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{appender: appender, query: query, verifier: verifier, logger: logger}
}

// SetTokenIssuer enables bearer-token checks on the write route.
func (h *AuditHandler) SetTokenIssuer(tokens *identity.TokenIssuer) {
	h.tokens = tokens
}

// SetScheduler routes on-demand full verifications through s, so their results
// reach the same observers (metrics, health, alerts) as scheduled runs.
func (h *AuditHandler) SetScheduler(s *auditchain.Scheduler) {
	h.scheduler = s
}

// Register mounts the audit routes on the given router group.
func (h *AuditHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/audit")
	{
		a.GET("/verify", h.Verify)
		a.GET("/chain", h.Overview)
		a.POST("/search", h.Search)
		a.POST("/events", identity.RequireRole(h.tokens, identity.RoleWriter), h.Record)
		a.GET("/:id", h.Trail)
	}
}

// Trail handles GET /audit/:id, listing every entry that references the resource.
func (h *AuditHandler) Trail(c *gin.Context) {
	order, err := auditchain.ParseSortOrder(c.Query("sortOrder"), auditchain.SortDesc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entries, err := h.query.Trail(c.Request.Context(), c.Param("id"), order)
	if err != nil {
		h.writeError(c, "audit trail", err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

type searchRequest struct {
	ResourceID    string         `json:"resourceId"`
	ResourceType  string         `json:"resourceType"`
	Action        string         `json:"action"`
	UserPrincipal string         `json:"userPrincipal"`
	Metadata      map[string]any `json:"metadata"`
	From          *time.Time     `json:"from"`
	To            *time.Time     `json:"to"`
	SortOrder     string         `json:"sortOrder"`
	Limit         int            `json:"limit"`
}

func (r *searchRequest) filter() (auditchain.Filter, error) {
	f := auditchain.Filter{
		ResourceID:    r.ResourceID,
		UserPrincipal: r.UserPrincipal,
		Metadata:      r.Metadata,
		From:          r.From,
		To:            r.To,
		Limit:         r.Limit,
	}
	var err error
	if f.ResourceType, err = auditchain.ParseResourceType(r.ResourceType); err != nil {
		return f, err
	}
	if r.Action != "" {
		if f.Action, err = auditchain.ParseAction(r.Action); err != nil {
			return f, err
		}
	}
	if f.Sort, err = auditchain.ParseSortOrder(r.SortOrder, auditchain.SortAsc); err != nil {
		return f, err
	}
	if f.Limit < 0 {
		return f, errors.New("limit must not be negative")
	}
	return f, nil
}

// Search handles POST /audit/search.
func (h *AuditHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid search body: " + err.Error()})
		return
	}
	f, err := req.filter()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entries, err := h.query.Search(c.Request.Context(), f)
	if err != nil {
		h.writeError(c, "audit search", err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// Verify handles GET /audit/verify. It replays the chain and reports integrity.
// Optional from/to query parameters restrict the check to an id range.
func (h *AuditHandler) Verify(c *gin.Context) {
	from, err := optionalID(c, "from")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	to, err := optionalID(c, "to")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// A range check says nothing about the chain as a whole, so only full
	// verifications update the scheduler's state.
	var res *auditchain.VerificationResult
	switch {
	case from > 0 || to > 0:
		res, err = h.verifier.VerifyRange(c.Request.Context(), from, to)
	case h.scheduler != nil:
		res, err = h.scheduler.RunOnce(c.Request.Context())
	default:
		if res, err = h.verifier.Verify(c.Request.Context()); err == nil {
			RecordVerification(res)
		}
	}
	if err != nil {
		h.writeError(c, "audit verify", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Overview handles GET /audit/chain: chain length, current root and parameters.
func (h *AuditHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.query.Count(ctx)
	if err != nil {
		h.writeError(c, "audit count", err)
		return
	}

	var root string
	head, err := h.query.Head(ctx)
	switch {
	case err == nil:
		root = head.Hash
	case !errors.Is(err, auditchain.ErrNotFound):
		h.writeError(c, "audit head", err)
		return
	}

	hasher := h.appender.Hasher()
	c.JSON(http.StatusOK, gin.H{
		"entries":             count,
		"root":                root,
		"genesisPreviousHash": hasher.Sentinel(),
		"algorithm":           hasher.Algorithm(),
		"excludedActions":     h.appender.Policy().Excluded(),
	})
}

type recordRequest struct {
	Action        string         `json:"action" binding:"required"`
	ResourceType  string         `json:"resourceType"`
	ResourceID    string         `json:"resourceId"`
	UserPrincipal string         `json:"userPrincipal"`
	Metadata      map[string]any `json:"metadata"`
	Timestamp     *time.Time     `json:"timestamp"`
}

// Record handles POST /audit/events, appending an entry on behalf of a collaborator.
// Responds 201 with the entry, or 204 when the action is excluded.
//
// The entry is attributed to the token subject. A body userPrincipal naming
// someone else is accepted only from tokens holding identity.RoleDelegate; in
// open mode (no token issuer) the body principal is taken as given.
func (h *AuditHandler) Record(c *gin.Context) {
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event body: " + err.Error()})
		return
	}

	if claims := identity.ClaimsFromCtx(c); claims != nil {
		switch {
		case req.UserPrincipal == "" || req.UserPrincipal == claims.Subject:
			req.UserPrincipal = claims.Subject
		case !claims.HasRole(identity.RoleDelegate):
			c.JSON(http.StatusForbidden, gin.H{"error": "recording for another principal requires role " + identity.RoleDelegate})
			return
		default:
			h.logger.Debug("audit event recorded by delegate",
				zap.String("delegate", claims.Subject),
				zap.String("principal", req.UserPrincipal),
			)
		}
	}

	action, err := auditchain.ParseAction(req.Action)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := auditchain.ParseResourceType(req.ResourceType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d := auditchain.Descriptor{
		Action:        action,
		ResourceType:  rt,
		ResourceID:    req.ResourceID,
		UserPrincipal: req.UserPrincipal,
		Metadata:      req.Metadata,
	}
	if req.Timestamp != nil {
		d.Timestamp = *req.Timestamp
	}

	entry, err := h.appender.Append(c.Request.Context(), d)
	if err != nil {
		h.writeError(c, "audit record", err)
		return
	}
	if entry == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// writeError maps chain errors onto HTTP statuses.
func (h *AuditHandler) writeError(c *gin.Context, op string, err error) {
	var se *auditchain.StorageError
	switch {
	case errors.Is(err, auditchain.ErrUnknownAction),
		errors.Is(err, auditchain.ErrReservedAction),
		errors.Is(err, auditchain.ErrInvalidMetadata),
		errors.Is(err, auditchain.ErrInvalidQuery):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, auditchain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
	case errors.Is(err, auditchain.ErrForkDetected):
		h.logger.Error(op, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit chain invariant violated"})
	case errors.Is(err, auditchain.ErrNotInitialized),
		errors.Is(err, auditchain.ErrAppenderClosed),
		errors.As(err, &se):
		h.logger.Error(op, zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit storage unavailable"})
	default:
		h.logger.Error(op, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func optionalID(c *gin.Context, name string) (int64, error) {
	s := c.Query(name)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return v, nil
}
