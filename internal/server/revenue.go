package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	revenuedomain "github.com/smallbiznis/leakradar/internal/revenue/domain"
)

func (s *Server) LatestSnapshot(c *gin.Context) {
	resp, err := s.revenueSvc.LatestSnapshot(c.Request.Context(), orgIDFromGin(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// TodayIssues answers an empty page rather than 404 before the first scan has run.
func (s *Server) TodayIssues(c *gin.Context) {
	limit, offset, err := parsePagination(c.Query("limit"), c.Query("offset"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.revenueSvc.TodayIssues(c.Request.Context(), orgIDFromGin(c), revenuedomain.IssueListRequest{
		Limit:  limit,
		Offset: offset,
	})
	if errors.Is(err, revenuedomain.ErrSnapshotNotFound) {
		c.JSON(http.StatusOK, gin.H{"data": gin.H{
			"issues":   []revenuedomain.IssueResponse{},
			"total":    0,
			"snapshot": nil,
		}})
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
