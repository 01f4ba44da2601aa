// Package http exposes the relay's REST and websocket surface.
package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dialcare/consult/internal/config"
	"github.com/dialcare/consult/internal/core"
	"github.com/dialcare/consult/internal/domain"
	"github.com/dialcare/consult/internal/relay"
)

// Server binds the hub and the session book to gin handlers.
type Server struct {
	cfg  *config.Config
	hub  *relay.Hub
	book *relay.SessionBook
}

func NewServer(cfg *config.Config, hub *relay.Hub, book *relay.SessionBook) *Server {
	return &Server{cfg: cfg, hub: hub, book: book}
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func (s *Server) SetupRouter() *gin.Engine {
	if s.cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if s.cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(s.cfg.Secret))
	r.Use(sessions.Sessions("ConsultSessions", store))
	r.Use(ClientTokenMiddleware())

	api := r.Group("/api/v1")
	api.POST("/sessions", s.handleCreateSession)
	api.GET("/sessions/:session", s.handleGetSession)
	api.POST("/sessions/:session/join", s.handleJoinSession)
	api.POST("/sessions/:session/start", s.handleStartSession)
	api.POST("/sessions/:session/end", s.handleEndSession)
	api.GET("/rooms", s.handleListRooms)
	api.GET("/ws/:session/:participant", s.handleRoomSocket)

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}

type createSessionRequest struct {
	Title          string    `json:"title"`
	ScheduledStart time.Time `json:"scheduled_start"`
	ScheduledEnd   time.Time `json:"scheduled_end"`

	RecordingEnabled     bool `json:"recording_enabled"`
	ScreenSharingEnabled bool `json:"screen_sharing_enabled"`
	ChatEnabled          bool `json:"chat_enabled"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session body"})
		return
	}
	if !req.ScheduledEnd.After(req.ScheduledStart) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scheduled_end must follow scheduled_start"})
		return
	}
	created := s.book.Create(domain.Session{
		Title:                req.Title,
		ScheduledStart:       req.ScheduledStart,
		ScheduledEnd:         req.ScheduledEnd,
		RecordingEnabled:     req.RecordingEnabled,
		ScreenSharingEnabled: req.ScreenSharingEnabled,
		ChatEnabled:          req.ChatEnabled,
	})
	c.JSON(http.StatusOK, created)
}

func (s *Server) handleGetSession(c *gin.Context) {
	sid := domain.SessionID(c.Param("session"))
	sess, err := s.book.Get(sid, time.Now())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sess)
}

type joinSessionRequest struct {
	ParticipantID string `json:"participant_id"`
}

func (s *Server) handleJoinSession(c *gin.Context) {
	sid := domain.SessionID(c.Param("session"))
	var req joinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ParticipantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing participant_id"})
		return
	}
	if _, err := s.book.Get(sid, time.Now()); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if err := s.book.MarkJoined(sid); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleStartSession(c *gin.Context) {
	sid := domain.SessionID(c.Param("session"))
	if err := s.book.SetStatus(sid, domain.SessionInProgress); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type endSessionRequest struct {
	Status domain.SessionStatus `json:"status"`
}

func (s *Server) handleEndSession(c *gin.Context) {
	sid := domain.SessionID(c.Param("session"))
	var req endSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end body"})
		return
	}
	if !req.Status.Terminal() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be terminal"})
		return
	}
	if err := s.book.SetStatus(sid, req.Status); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	s.hub.StopRoom(sid)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.List())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, core.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
