package server

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
)

// Action names an operation a caller may be allowed to perform on a tenant.
type Action string

const (
	ActionSubscriptionCreate Action = "subscription.create"
	ActionSubscriptionRead   Action = "subscription.read"
	ActionSubscriptionCancel Action = "subscription.cancel"
	ActionCheckoutCreate     Action = "checkout.create"
	ActionLimitsRead         Action = "limits.read"
)

// Authorizer decides whether the request may perform action. Identity is
// resolved upstream of this service; the default implementation allows all.
type Authorizer interface {
	Authorize(ctx context.Context, tenantID string, action Action) error
}

type allowAll struct{}

func (allowAll) Authorize(context.Context, string, Action) error { return nil }

func (s *Server) authorize(action Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.Param("tenant_id"))
		if err := s.authz.Authorize(c.Request.Context(), tenantID, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
