package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mcdatalink/datalink/internal/events"
)

// handleListPlayers returns every registered player.
func (s *Server) handleListPlayers(c *gin.Context) {
	players, err := s.registry.ListPlayers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"players": players,
		"total":   len(players),
	})
}

type joinRequest struct {
	Name string `json:"name"`
}

// handlePlayerJoin reports a join as if the game server had logged it.
func (s *Server) handlePlayerJoin(c *gin.Context) {
	id, ok := parsePlayerID(c)
	if !ok {
		return
	}

	var req joinRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	s.emitPlayerEvent(c, events.EventPlayerJoined, events.PlayerPayload{ID: id, Name: req.Name}, "joined")
}

// handlePlayerQuit reports a quit.
func (s *Server) handlePlayerQuit(c *gin.Context) {
	id, ok := parsePlayerID(c)
	if !ok {
		return
	}
	s.emitPlayerEvent(c, events.EventPlayerQuit, events.PlayerPayload{ID: id}, "quit")
}

func (s *Server) emitPlayerEvent(c *gin.Context, t events.EventType, p events.PlayerPayload, status string) {
	err := s.eventBus.EmitSync(c.Request.Context(), events.Event{
		Type:    t,
		Source:  "api",
		Payload: p,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info().Str("player", p.ID.String()).Str("event", string(t)).Msg("API: player event")
	c.JSON(http.StatusOK, gin.H{"status": status, "id": p.ID})
}

// handleSendPlayerStats pushes one player's stats now.
func (s *Server) handleSendPlayerStats(c *gin.Context) {
	id, ok := parsePlayerID(c)
	if !ok {
		return
	}

	if err := s.link.RequestSendStats(c.Request.Context(), id); err != nil {
		c.JSON(linkErrorStatus(err), gin.H{"error": err.Error(), "id": id})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent", "id": id})
}

// handleTakeMessages drains the player's pending messages.
func (s *Server) handleTakeMessages(c *gin.Context) {
	id, ok := parsePlayerID(c)
	if !ok {
		return
	}

	msgs, err := s.registry.TakeMessages(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":       id,
		"messages": msgs,
	})
}

// handleSyncStats starts a push of every known player's stats.
func (s *Server) handleSyncStats(c *gin.Context) {
	if err := s.link.RequestSendAllStats(c.Request.Context()); err != nil {
		c.JSON(linkErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	s.logger.Info().Msg("API: stats sync started")
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

// handleReconnect drops the active session.
func (s *Server) handleReconnect(c *gin.Context) {
	if err := s.link.Reconnect(); err != nil {
		c.JSON(linkErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	s.logger.Info().Msg("API: reconnect requested")
	c.JSON(http.StatusAccepted, gin.H{"status": "reconnecting"})
}

// parsePlayerID extracts the :id parameter, writing 400 when it is not a UUID.
func parsePlayerID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid player id"})
		return uuid.Nil, false
	}
	return id, true
}
