package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mcdatalink/datalink/internal/config"
	"github.com/mcdatalink/datalink/internal/util"
)

// handleGetStatus returns the link status and the online player count.
func (s *Server) handleGetStatus(c *gin.Context) {
	online, err := s.registry.ListPlayerIDs(c.Request.Context(), true)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"link":           s.link.Status(),
		"online_players": len(online),
		"version":        s.version,
	})
}

// handleGetSystem returns host information and resource usage.
func (s *Server) handleGetSystem(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"system": util.GetSystemInfo(),
		"usage":  util.GetResourceUsage(s.cfg.GetServerData().ServerDirectory),
	})
}

// handleGetHealth returns the latest health report. An unhealthy report is
// served as 503 so load balancers can probe it.
func (s *Server) handleGetHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "health checks disabled"})
		return
	}
	report := s.health.Snapshot()
	code := http.StatusOK
	if !report.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

// handleGetConfig returns the running configuration with secrets redacted.
func (s *Server) handleGetConfig(c *gin.Context) {
	link := s.cfg.GetLinkData()
	link.LicenseKey = redact(link.LicenseKey)

	app := s.cfg.GetApplicationData()
	app.Security.APIToken = redact(app.Security.APIToken)

	c.JSON(http.StatusOK, gin.H{
		"link_data":        link,
		"server_data":      s.cfg.GetServerData(),
		"application_data": app,
	})
}

func redact(secret string) string {
	if secret == "" || secret == config.LicenseKeyPlaceholder {
		return secret
	}
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}
