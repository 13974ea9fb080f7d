package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Avatar/internal/adapters/signal"
	"github.com/dkeye/Avatar/internal/app"
	"github.com/dkeye/Avatar/internal/config"
)

const clientTokenCookie = "ct"

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(clientTokenCookie)
		if token == "" {
			token = genClientToken()
			c.SetCookie(clientTokenCookie, token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, svc *app.RelayService, feed *signal.EventFeed) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24, HttpOnly: true})
	r.Use(sessions.Sessions("AvatarSessions", store))
	r.Use(ClientTokenMiddleware())

	h := &handlers{svc: svc}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "streams": svc.Registry.Len()})
	})

	did := r.Group("/did")
	did.POST("/offer", h.offer)
	did.POST("/answer", h.answer)
	did.DELETE("/streams/:id", h.closeStream)

	api := r.Group("/api")
	api.GET("/session", h.session)
	api.GET("/ws/events", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws events endpoint hit")
		feed.HandleEvents(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
