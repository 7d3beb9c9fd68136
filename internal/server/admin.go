package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Faervan/yggdrasil-sub000/internal/lobby"
	"github.com/Faervan/yggdrasil-sub000/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// feedEvent is the JSON form of a lobby event on /lobby/ws.
type feedEvent struct {
	Kind       string   `json:"kind"`
	ClientID   uint16   `json:"client_id"`
	GameID     uint16   `json:"game_id"`
	Reason     string   `json:"reason,omitempty"`
	Recipients []uint16 `json:"recipients,omitempty"`
	Update     any      `json:"update,omitempty"`
}

type noticeBody struct {
	Text string `json:"text" binding:"required"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

func (s *Server) newAdminRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminRequestLogger(log.Logger, "/metrics", "/health", "/lobby/ws"))
	r.Use(observability.AdminMetricsMiddleware(s.cfg.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	s.registerRoutes(r)
	return r
}

func (s *Server) registerRoutes(r gin.IRoutes) {
	r.GET("/health", func(c *gin.Context) {
		snap := s.manager.Snapshot()
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"server":  s.cfg.Name,
			"uptime":  time.Since(s.started).String(),
			"clients": len(snap.Lobby.Clients),
			"games":   len(snap.Lobby.Games),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/lobby", func(c *gin.Context) {
		snap := s.manager.Snapshot()
		c.JSON(http.StatusOK, gin.H{
			"taken_at": snap.TakenAt,
			"clients":  snap.Lobby.Clients,
			"games":    snap.Lobby.Games,
		})
	})

	r.GET("/lobby/ws", s.serveFeed)

	r.POST("/clients/:id/kick", func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		s.command(c, lobby.Command{Op: lobby.KickClient, ClientID: id})
	})

	r.DELETE("/games/:id", func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		s.command(c, lobby.Command{Op: lobby.CloseGame, GameID: id})
	})

	r.POST("/notice", func(c *gin.Context) {
		var body noticeBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.command(c, lobby.Command{Op: lobby.PostNotice, Text: body.Text})
	})
}

func (s *Server) command(c *gin.Context, cmd lobby.Command) {
	err := s.manager.Command(c.Request.Context(), cmd)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, lobby.ErrUnknownClient), errors.Is(err, lobby.ErrGameNotFound):
			status = http.StatusNotFound
		case errors.Is(err, lobby.ErrEmptyNotice), errors.Is(err, lobby.ErrNoticeTooLong):
			status = http.StatusBadRequest
		case errors.Is(err, lobby.ErrStopped):
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// serveFeed streams lobby events to a websocket until either side leaves.
func (s *Server) serveFeed(c *gin.Context) {
	sub, err := s.manager.Subscribe(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-sub.C:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "lobby stopped"))
				return
			}
			data, err := json.Marshal(feedEvent{
				Kind:       ev.Kind.String(),
				ClientID:   ev.ClientID,
				GameID:     ev.GameID,
				Reason:     ev.Reason,
				Recipients: ev.Recipients,
				Update:     ev.Update,
			})
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func parseID(c *gin.Context) (uint16, bool) {
	v, err := strconv.ParseUint(c.Param("id"), 10, 16)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint16(v), true
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
