package server

import (
	"net/http"

	usagedomain "github.com/Ajamix/saas-platform-api/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

func (s *Server) GetLimitReport(c *gin.Context) {
	report, err := s.limitsSvc.Report(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

// CheckLimit answers whether one more unit of :resource may be created.
// Submission checks take the owning resource type as ?parent_id=.
func (s *Server) CheckLimit(c *gin.Context) {
	class, err := usagedomain.ParseResourceClass(c.Param("resource"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	parentID, err := parseOptionalSnowflakeID(c.Query("parent_id"))
	if err != nil {
		AbortWithError(c, newValidationError("parent_id", "invalid_parent_id", "invalid parent_id"))
		return
	}
	var parent snowflake.ID
	if parentID != nil {
		parent = *parentID
	}

	decision, err := s.limitsSvc.CanCreate(c.Request.Context(), c.Param("tenant_id"), class, parent)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": decision})
}
