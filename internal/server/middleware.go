package server

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/coursekitlabs/coursekit/internal/audit/domain"
	"github.com/coursekitlabs/coursekit/internal/orgcontext"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// HeaderUser carries the authenticated user id resolved by the upstream
	// gateway. Session authentication itself is not this service's job.
	HeaderUser = "X-User-Id"

	// HeaderTriggerSecret authenticates the scheduler-facing trigger endpoint.
	HeaderTriggerSecret = "X-Scheduler-Secret"

	HeaderRequestID = "X-Request-Id"
)

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(HeaderRequestID, id)
		c.Set("request_id", id)
		c.Next()
	}
}

func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.GetString("request_id")),
		)
	}
}

// OrgAdminRequired resolves the caller's membership in the path organization
// and requires an owner or admin role. Non-members get the same not-found
// response as a missing resource.
func (s *Server) OrgAdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, err := orgIDFromPath(c)
		if err != nil {
			AbortWithError(c, ErrNotFound)
			return
		}

		userID := strings.TrimSpace(c.GetHeader(HeaderUser))
		if userID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		var member auditdomain.OrganizationMember
		err = s.db.WithContext(c.Request.Context()).
			Where("org_id = ? AND user_id = ?", orgID, userID).
			First(&member).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				AbortWithError(c, ErrNotFound)
				return
			}
			AbortWithError(c, err)
			return
		}

		switch member.Role {
		case "owner", "admin":
		default:
			AbortWithError(c, ErrForbidden)
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), orgID)
		ctx = orgcontext.WithActor(ctx, orgcontext.Actor{
			UserID:    userID,
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// TriggerSecretRequired authenticates the machine-to-machine trigger endpoint
// with a constant-time shared-secret comparison. An unconfigured secret fails
// closed.
func (s *Server) TriggerSecretRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := s.cfg.TriggerSecret
		provided := c.GetHeader(HeaderTriggerSecret)
		if secret == "" || provided == "" ||
			subtle.ConstantTimeCompare([]byte(secret), []byte(provided)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		orgID, err := orgIDFromPath(c)
		if err != nil {
			AbortWithError(c, ErrNotFound)
			return
		}

		if !s.limiter.Allow(c.Request.Context(), strings.TrimSpace(c.Param("job_id"))) {
			AbortWithError(c, ErrRateLimited)
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), orgID)
		ctx = orgcontext.WithActor(ctx, orgcontext.Actor{
			UserID:    "scheduler",
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func orgIDFromPath(c *gin.Context) (int64, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("org_id")))
	if err != nil {
		return 0, err
	}
	return id.Int64(), nil
}
