package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dkeye/Parley/internal/adapters/auth"
	"github.com/dkeye/Parley/internal/adapters/rtc"
	"github.com/dkeye/Parley/internal/adapters/signal"
	"github.com/dkeye/Parley/internal/app/orch"
	"github.com/dkeye/Parley/internal/config"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const sessionName = "ParleySession"

// InternalTokenHeader authenticates the persistence service on /internal.
const InternalTokenHeader = "X-Internal-Token"

// InternalTokenMiddleware rejects requests without the shared token. An empty
// configured token closes the group entirely.
func InternalTokenMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(InternalTokenHeader)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			log.Warn().Str("module", "adapters.http").Str("path", c.FullPath()).Str("remote", c.ClientIP()).Msg("internal call rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// RequireAuth rejects requests that carry no valid user credential.
func RequireAuth(a auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := a.Authenticate(auth.TokenFromRequest(c)); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// defaultHookBodyLimit bounds hook bodies when no read limit is configured.
const defaultHookBodyLimit = 64 << 10

// SetupRouter mounts the websocket gateway, the public read endpoints and
// the hooks the persistence service calls after committing a change.
func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, ctrl *signal.SignalWSController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions(sessionName, store))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": o.Registry.Count(),
			"online":      o.Presence.OnlineCount(),
		})
	})

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	// POST /api/session stores a credential in the cookie session so browsers
	// can open the socket without putting the token in the URL.
	api.POST("/session", func(c *gin.Context) {
		token := auth.TokenFromRequest(c)
		if _, err := ctrl.Auth.Authenticate(token); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		s := sessions.Default(c)
		s.Set(auth.SessionTokenKey, token)
		if err := s.Save(); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.DELETE("/session", func(c *gin.Context) {
		s := sessions.Default(c)
		s.Clear()
		_ = s.Save()
		c.Status(http.StatusNoContent)
	})

	authed := api.Group("", RequireAuth(ctrl.Auth))

	authed.GET("/presence", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"online": o.Presence.Snapshot()})
	})

	iceCfg := rtc.NewClientConfig(rtc.FromConfig(cfg.ICEServers))
	authed.GET("/rtc/config", func(c *gin.Context) {
		c.JSON(http.StatusOK, iceCfg)
	})

	authed.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Rooms.List())
	})

	// GET /api/rooms/:roomId/members: member count of a room, e.g. channel:general
	authed.GET("/rooms/:roomId/members", func(c *gin.Context) {
		room := domain.RoomID(c.Param("roomId"))
		if room.Kind() == domain.RoomUnknown {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown room kind"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"roomId":      room,
			"memberCount": len(o.Rooms.Members(room)),
		})
	})

	internal := r.Group("/internal", InternalTokenMiddleware(cfg.InternalToken))
	mountInternal(internal, o, cfg.ReadLimit)

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}

func mountInternal(g *gin.RouterGroup, o *orch.Orchestrator, bodyLimit int64) {
	if bodyLimit <= 0 {
		bodyLimit = defaultHookBodyLimit
	}

	// POST /internal/channels/:channelId/messages: body is the persisted message
	g.POST("/channels/:channelId/messages", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, bodyLimit)
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		res, err := o.Chat.PublishMessage(domain.ChannelID(c.Param("channelId")), json.RawMessage(body))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"sentTo": res.SendTo, "dropped": len(res.Dropped)})
	})

	g.POST("/calls", func(c *gin.Context) {
		var req struct {
			SessionID domain.CallSessionID `json:"sessionId"`
			ChannelID domain.ChannelID     `json:"channelId" binding:"required"`
			CreatedBy domain.UserID        `json:"createdById" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s, created, err := o.Calls.StartCall(req.SessionID, req.ChannelID, req.CreatedBy)
		if err != nil {
			writeError(c, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		c.JSON(status, s)
	})

	g.GET("/calls/:sessionId", func(c *gin.Context) {
		s, ok := o.Calls.Sessions.Get(domain.CallSessionID(c.Param("sessionId")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, s)
	})

	g.POST("/calls/:sessionId/participants", func(c *gin.Context) {
		var req struct {
			UserID domain.UserID `json:"userId" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		p, err := o.Calls.RecordJoin(domain.CallSessionID(c.Param("sessionId")), req.UserID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	})

	g.DELETE("/calls/:sessionId/participants/:userId", func(c *gin.Context) {
		err := o.Calls.RecordLeave(domain.CallSessionID(c.Param("sessionId")), domain.UserID(c.Param("userId")))
		if err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/calls/:sessionId/end", func(c *gin.Context) {
		var req struct {
			ActorID domain.UserID `json:"actorId"`
		}
		// The body is optional; an empty one ends the call without an actor.
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s, err := o.Calls.EndSession(req.ActorID, domain.CallSessionID(c.Param("sessionId")))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, s)
	})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrAuthorization):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("internal hook failed")
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	}
}
