package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/leakradar/internal/observability/logger"
	"github.com/smallbiznis/leakradar/internal/revenue/scan"
	"go.uber.org/zap"
)

type dailyRevenueCheckResponse struct {
	Success          bool   `json:"success"`
	RunID            string `json:"runId,omitempty"`
	Date             string `json:"date,omitempty"`
	Processed        int    `json:"processed"`
	Failed           int    `json:"failed"`
	TotalIssuesFound int    `json:"totalIssuesFound"`
	ExecutionTimeMs  int64  `json:"executionTimeMs"`
	Timestamp        string `json:"timestamp"`
	Error            string `json:"error,omitempty"`
}

// DailyRevenueCheck runs the daily scan synchronously. A failed run still answers 200 with
// success=false so the external scheduler does not retry into a scan that is already underway.
// The scan is detached from the request so a caller hanging up cannot leave a day half scanned.
func (s *Server) DailyRevenueCheck(c *gin.Context) {
	start := time.Now()
	ctx := context.WithoutCancel(c.Request.Context())

	result, err := s.scanner.RunDailyScan(ctx)
	resp := dailyRevenueCheckResponse{
		Success:          err == nil,
		RunID:            result.RunID,
		Date:             result.Date,
		Processed:        result.OrganizationsProcessed,
		Failed:           result.OrganizationsFailed,
		TotalIssuesFound: result.IssuesFound,
		ExecutionTimeMs:  time.Since(start).Milliseconds(),
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		switch {
		case errors.Is(err, scan.ErrScanInProgress):
			resp.Error = scan.ErrScanInProgress.Error()
		default:
			logger.WithContext(ctx, s.log).Error("daily revenue check failed", zap.Error(err))
			resp.Error = "revenue check failed"
		}
	}

	c.JSON(http.StatusOK, resp)
}
