package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	gatewaydomain "github.com/Ajamix/saas-platform-api/internal/gateway/domain"
	plandomain "github.com/Ajamix/saas-platform-api/internal/plan/domain"
	subscriptiondomain "github.com/Ajamix/saas-platform-api/internal/subscription/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errPlanNotPurchasable = errors.New("plan_not_purchasable")

type checkoutRequest struct {
	PlanID     string `json:"plan_id"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

type checkoutResponse struct {
	Provider  string     `json:"provider"`
	SessionID string     `json:"session_id,omitempty"`
	URL       string     `json:"url"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CreateCheckout starts the purchase of a plan. A gateway session is opened
// when the plan maps to a gateway product; otherwise the plan's static
// checkout link is returned tagged with the tenant.
func (s *Server) CreateCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	tenantID := strings.TrimSpace(c.Param("tenant_id"))
	if tenantID == "" {
		AbortWithError(c, subscriptiondomain.ErrInvalidTenant)
		return
	}
	planID, err := parseSnowflakeID(strings.TrimSpace(req.PlanID))
	if err != nil {
		AbortWithError(c, subscriptiondomain.ErrInvalidPlan)
		return
	}
	successURL, cancelURL, err := checkoutURLs(req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	plan, err := s.planSvc.GetPlan(ctx, planID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !plan.IsActive {
		AbortWithError(c, subscriptiondomain.ErrInvalidPlan)
		return
	}

	current, err := s.subscriptionSvc.GetEntitling(ctx, tenantID, s.clock.Now().UTC())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if current != nil && current.IsLive() {
		AbortWithError(c, subscriptiondomain.ErrSubscriptionConflict)
		return
	}

	resp, err := s.openCheckout(c, tenantID, plan, successURL, cancelURL)
	if err != nil {
		s.log.Warn("checkout.failed",
			zap.String("tenant_id", tenantID),
			zap.String("plan_id", plan.ID.String()),
			zap.Error(err),
		)
		AbortWithError(c, err)
		return
	}

	s.log.Info("checkout.created",
		zap.String("tenant_id", tenantID),
		zap.String("plan_id", plan.ID.String()),
		zap.String("provider", resp.Provider),
		zap.String("session_id", resp.SessionID),
	)
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) openCheckout(c *gin.Context, tenantID string, plan plandomain.Plan, successURL, cancelURL string) (checkoutResponse, error) {
	if plan.ExternalProductID != nil && strings.TrimSpace(*plan.ExternalProductID) != "" {
		gw, err := s.gateways.For("")
		if err == nil {
			checkout, err := gw.CreateCheckout(c.Request.Context(), gatewaydomain.CheckoutRequest{
				TenantID:   tenantID,
				ProductID:  strings.TrimSpace(*plan.ExternalProductID),
				SuccessURL: successURL,
				CancelURL:  cancelURL,
			})
			if err == nil {
				return checkoutResponse{
					Provider:  gw.Name(),
					SessionID: checkout.SessionID,
					URL:       checkout.URL,
					ExpiresAt: checkout.ExpiresAt,
				}, nil
			}
			if !errors.Is(err, gatewaydomain.ErrGatewayNotConfigured) {
				return checkoutResponse{}, err
			}
		} else if !errors.Is(err, gatewaydomain.ErrProviderNotFound) {
			return checkoutResponse{}, err
		}
	}

	if strings.TrimSpace(plan.CheckoutURL) == "" {
		return checkoutResponse{}, errPlanNotPurchasable
	}
	link, err := staticCheckoutLink(plan.CheckoutURL, tenantID)
	if err != nil {
		return checkoutResponse{}, errPlanNotPurchasable
	}
	return checkoutResponse{Provider: "link", URL: link}, nil
}

// staticCheckoutLink tags a hosted payment link with the tenant so the
// completed-checkout webhook can attribute the purchase.
func staticCheckoutLink(raw, tenantID string) (string, error) {
	link, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	query := link.Query()
	query.Set("client_reference_id", tenantID)
	link.RawQuery = query.Encode()
	return link.String(), nil
}

func checkoutURLs(req checkoutRequest) (string, string, error) {
	successURL := strings.TrimSpace(req.SuccessURL)
	cancelURL := strings.TrimSpace(req.CancelURL)
	if !isAbsoluteURL(successURL) {
		return "", "", newValidationError("success_url", "invalid_url", "success_url must be an absolute URL")
	}
	if cancelURL == "" {
		cancelURL = successURL
	}
	if !isAbsoluteURL(cancelURL) {
		return "", "", newValidationError("cancel_url", "invalid_url", "cancel_url must be an absolute URL")
	}
	return successURL, cancelURL, nil
}

func isAbsoluteURL(raw string) bool {
	parsed, err := url.ParseRequestURI(raw)
	return err == nil && parsed.Scheme != "" && parsed.Host != ""
}

type activeSubscriptionView struct {
	subscriptiondomain.Subscription
	Plan *plandomain.Plan `json:"plan,omitempty"`
}

// GetActiveSubscription returns the subscription entitling the tenant now,
// with its plan, or null data when the tenant is on the free tier.
func (s *Server) GetActiveSubscription(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := strings.TrimSpace(c.Param("tenant_id"))

	current, err := s.subscriptionSvc.GetEntitling(ctx, tenantID, s.clock.Now().UTC())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if current == nil {
		c.JSON(http.StatusOK, gin.H{"data": nil})
		return
	}

	view := activeSubscriptionView{Subscription: *current}
	plan, err := s.planSvc.GetPlan(ctx, current.PlanID)
	switch {
	case err == nil:
		view.Plan = &plan
	case errors.Is(err, plandomain.ErrPlanNotFound):
		s.log.Warn("subscription.plan_missing",
			zap.String("subscription_id", current.ID.String()),
			zap.String("plan_id", current.PlanID.String()),
		)
	default:
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}
