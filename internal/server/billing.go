package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	billinglinkdomain "github.com/smallbiznis/leakradar/internal/billinglink/domain"
)

func (s *Server) ConnectBilling(c *gin.Context) {
	var req billinglinkdomain.ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.billingLinkSvc.Connect(c.Request.Context(), orgIDFromGin(c), billinglinkdomain.ConnectRequest{
		APIKey: strings.TrimSpace(req.APIKey),
		Mode:   strings.TrimSpace(req.Mode),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetBillingAccount(c *gin.Context) {
	resp, err := s.billingLinkSvc.Get(c.Request.Context(), orgIDFromGin(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DisconnectBilling(c *gin.Context) {
	if err := s.billingLinkSvc.Disconnect(c.Request.Context(), orgIDFromGin(c)); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
