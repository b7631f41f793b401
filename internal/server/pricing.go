package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) CalculatePricing(c *gin.Context) {
	quote, err := s.pricingSvc.Calculate(c.Request.Context(), orgIDFromGin(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": quote})
}
