package http

import (
	"net/http"

	"github.com/dkeye/Conference/internal/app/orch"
	"github.com/dkeye/Conference/internal/apperr"
	"github.com/dkeye/Conference/internal/config"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/result"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const identityHeader = "X-Username"

// IdentityMiddleware resolves the caller from the X-Username header.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := domain.ParseIdentity(c.GetHeader(identityHeader))
		if err != nil {
			fail(c, apperr.Invalid("%s header: %v", identityHeader, err))
			c.Abort()
			return
		}
		c.Set("identity", id)
		c.Next()
	}
}

func identity(c *gin.Context) domain.Identity {
	id, _ := c.Get("identity")
	v, _ := id.(domain.Identity)
	return v
}

func SetupRouter(cfg *config.Config, o *orch.Orchestrator, hub *EventHub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	h := &handlers{orch: o, hub: hub}
	limiter := NewRateLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Interval)

	api := r.Group("/api", IdentityMiddleware())

	api.GET("/meetings", h.listMeetings)
	api.POST("/meetings", RateLimit(limiter), h.createMeeting)
	api.GET("/meetings/:id", h.meetingInfo)
	api.DELETE("/meetings/:id", h.endMeeting)
	api.GET("/meetings/:id/events", h.events)

	api.POST("/meetings/:id/attendees", RateLimit(limiter), h.join)
	api.DELETE("/meetings/:id/attendees/me", h.leave)
	api.POST("/meetings/:id/transports/:direction/connect", h.connectTransport)

	api.POST("/meetings/:id/producers", h.produce)
	api.DELETE("/meetings/:id/producers/:kind", h.closeProducer)
	api.POST("/meetings/:id/producers/:kind/pause", h.pauseProducer)
	api.POST("/meetings/:id/producers/:kind/resume", h.resumeProducer)

	api.POST("/meetings/:id/consumers", h.consume)
	api.DELETE("/meetings/:id/consumers/:consumerId", h.closeConsumer)
	api.POST("/meetings/:id/consumers/:consumerId/pause", h.pauseConsumer)
	api.POST("/meetings/:id/consumers/:consumerId/resume", h.resumeConsumer)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUpstream:
		return http.StatusBadGateway
	case apperr.KindPermissionDenied:
		return http.StatusForbidden
	case apperr.KindInvalid:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func respond[T any](c *gin.Context, okStatus int, res result.Result[T]) {
	if res.Ok() {
		c.JSON(okStatus, res)
		return
	}
	status := statusOf(res.Kind)
	if status >= http.StatusInternalServerError {
		log.Error().Err(res.Err()).Str("module", "adapters.http").
			Str("path", c.FullPath()).
			Msg("request failed")
	}
	c.JSON(status, res)
}

func fail(c *gin.Context, err error) {
	respond(c, http.StatusOK, result.Failure[result.Empty](err))
}
