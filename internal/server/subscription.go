package server

import (
	"net/http"
	"strings"

	notificationdomain "github.com/Ajamix/saas-platform-api/internal/notification/domain"
	subscriptiondomain "github.com/Ajamix/saas-platform-api/internal/subscription/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type createSubscriptionRequest struct {
	TenantID string         `json:"tenant_id"`
	PlanID   string         `json:"plan_id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CreateSubscription grants a plan administratively. Gateway-billed
// subscriptions are created by the checkout webhook instead.
func (s *Server) CreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.subscriptionSvc.Create(c.Request.Context(), subscriptiondomain.CreateSubscriptionRequest{
		TenantID: strings.TrimSpace(req.TenantID),
		PlanID:   strings.TrimSpace(req.PlanID),
		Metadata: req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("subscription.granted",
		zap.String("subscription_id", resp.ID.String()),
		zap.String("tenant_id", resp.TenantID),
		zap.String("plan_id", resp.PlanID.String()),
	)
	s.notifier.Drain(c.Request.Context(), []notificationdomain.Event{resp.ChangeEvent(s.clock.Now().UTC())})

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetSubscriptionByID(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if _, err := parseSnowflakeID(id); err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	item, err := s.subscriptionSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) ListTenantSubscriptions(c *gin.Context) {
	items, err := s.subscriptionSvc.ListByTenant(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

// CancelSubscription succeeds once the local intent is recorded. A failed
// gateway cancel is reported, not returned as an error.
func (s *Server) CancelSubscription(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	result, err := s.cancellationSvc.Cancel(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":                   result.Subscription,
		"gateway_cancel_pending": result.GatewayErr != nil,
	})
}
