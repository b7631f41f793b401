package server

import (
	"crypto/subtle"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/leakradar/internal/observability/context"
	"github.com/smallbiznis/leakradar/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	HeaderOrg           = "X-Org-ID"
	contextOrgIDKey     = "org_id"
	cronEndpoint        = "cron.daily_revenue_check"
	bearerPrefix        = "Bearer "
	rateLimitReasonCron = "cron-rate"
)

// OrgContext resolves the organization set by the upstream auth gateway.
func OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderOrg))
		if raw == "" {
			AbortWithError(c, ErrOrgRequired)
			return
		}
		orgID, err := snowflake.ParseString(raw)
		if err != nil || orgID <= 0 {
			AbortWithError(c, ErrOrgRequired)
			return
		}

		ctx := obscontext.WithOrgID(c.Request.Context(), orgID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextOrgIDKey, orgID.String())
		c.Next()
	}
}

func orgIDFromGin(c *gin.Context) string {
	return c.GetString(contextOrgIDKey)
}

// CronAuthRequired accepts only the configured cron secret as a bearer token.
// An empty secret rejects every caller.
func (s *Server) CronAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := strings.TrimSpace(s.cfg.CronSecret)
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if secret == "" || !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := obscontext.WithActor(c.Request.Context(), "system", "cron")
		c.Request = c.Request.WithContext(ctx)

		if !s.cronLimiter.Enabled() {
			c.Next()
			return
		}

		result, err := s.cronLimiter.Allow(ctx, c.ClientIP())
		if err != nil {
			logger.WithContext(ctx, s.log).Warn("cron rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			s.obsMetrics.RecordRateLimitDenied(ctx, cronEndpoint, rateLimitReasonCron)
			if result.RetryAfter > 0 {
				c.Header("Retry-After", retryAfterSeconds(result.RetryAfter))
			}
			AbortWithError(c, ErrRateLimited)
			return
		}
		s.obsMetrics.RecordRateLimitAllowed(ctx, cronEndpoint)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}
