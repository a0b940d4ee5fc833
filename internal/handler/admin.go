package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openfilz/openfilz-core-sub000/internal/auditchain"
	"github.com/openfilz/openfilz-core-sub000/internal/identity"
)

// AdminHandler lets operators change which actions are excluded from the chain.
type AdminHandler struct {
	policy *auditchain.ExclusionPolicy
	tokens *identity.TokenIssuer
	logger *zap.Logger
}

// NewAdminHandler creates a new AdminHandler. A nil tokens issuer leaves the
// routes open, which is only appropriate for local development.
func NewAdminHandler(policy *auditchain.ExclusionPolicy, tokens *identity.TokenIssuer, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{policy: policy, tokens: tokens, logger: logger}
}

// Register mounts the admin routes on the given router group.
func (h *AdminHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/admin/audit", identity.RequireRole(h.tokens, identity.RoleAdmin))
	{
		a.GET("/excluded-actions", h.GetExcluded)
		a.PUT("/excluded-actions", h.SetExcluded)
	}
}

type exclusionBody struct {
	ExcludedActions []string `json:"excludedActions"`
}

// GetExcluded handles GET /admin/audit/excluded-actions.
func (h *AdminHandler) GetExcluded(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"excludedActions":  h.policy.Excluded(),
		"availableActions": auditchain.AllActions(),
	})
}

// SetExcluded handles PUT /admin/audit/excluded-actions. The body replaces the
// whole set; it affects subsequent appends only.
func (h *AdminHandler) SetExcluded(c *gin.Context) {
	var body exclusionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}
	actions, err := auditchain.ParseActions(body.ExcludedActions)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, a := range actions {
		if a == auditchain.ActionChainGenesis {
			c.JSON(http.StatusBadRequest, gin.H{"error": "CHAIN_GENESIS cannot be excluded"})
			return
		}
	}

	h.policy.SetExcluded(actions)
	h.logger.Info("audit exclusion set replaced",
		zap.String("by", identity.PrincipalFromCtx(c)),
		zap.Any("excluded", h.policy.Excluded()),
	)
	c.JSON(http.StatusOK, gin.H{"excludedActions": h.policy.Excluded()})
}
