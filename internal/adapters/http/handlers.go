package http

import (
	"net/http"

	"github.com/dkeye/Conference/internal/app/orch"
	"github.com/dkeye/Conference/internal/apperr"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/media"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	orch *orch.Orchestrator
	hub  *EventHub
}

type connectRequest struct {
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

type produceRequest struct {
	Kind          string              `json:"kind"`
	RTPParameters media.RTPParameters `json:"rtpParameters"`
}

type consumeRequest struct {
	ProducerID      domain.ProducerID     `json:"producerId"`
	RTPCapabilities media.RTPCapabilities `json:"rtpCapabilities"`
}

func meetingID(c *gin.Context) domain.MeetingID { return domain.MeetingID(c.Param("id")) }

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		fail(c, apperr.Invalid("bad request body: %v", err))
		return false
	}
	return true
}

func (h *handlers) listMeetings(c *gin.Context) {
	respond(c, http.StatusOK, h.orch.ListMeetings())
}

func (h *handlers) createMeeting(c *gin.Context) {
	respond(c, http.StatusCreated, h.orch.CreateMeeting(c.Request.Context(), identity(c)))
}

func (h *handlers) meetingInfo(c *gin.Context) {
	respond(c, http.StatusOK, h.orch.MeetingInfo(meetingID(c)))
}

func (h *handlers) endMeeting(c *gin.Context) {
	respond(c, http.StatusOK, h.orch.EndMeeting(meetingID(c), identity(c)))
}

func (h *handlers) join(c *gin.Context) {
	respond(c, http.StatusOK, h.orch.Join(c.Request.Context(), meetingID(c), identity(c)))
}

func (h *handlers) leave(c *gin.Context) {
	respond(c, http.StatusOK, h.orch.Leave(meetingID(c), identity(c)))
}

func (h *handlers) connectTransport(c *gin.Context) {
	dir, err := domain.ParseTransportDirection(c.Param("direction"))
	if err != nil {
		fail(c, apperr.Invalid("%v", err))
		return
	}
	var req connectRequest
	if !bind(c, &req) {
		return
	}
	respond(c, http.StatusOK, h.orch.ConnectTransport(c.Request.Context(), meetingID(c), identity(c), dir, req.DTLSParameters))
}

func (h *handlers) produce(c *gin.Context) {
	var req produceRequest
	if !bind(c, &req) {
		return
	}
	kind, err := domain.ParseProducerKind(req.Kind)
	if err != nil {
		fail(c, apperr.Invalid("%v", err))
		return
	}
	respond(c, http.StatusOK, h.orch.ProduceMedia(c.Request.Context(), meetingID(c), identity(c), kind, req.RTPParameters))
}

func producerKind(c *gin.Context) (domain.ProducerKind, bool) {
	kind, err := domain.ParseProducerKind(c.Param("kind"))
	if err != nil {
		fail(c, apperr.Invalid("%v", err))
		return "", false
	}
	return kind, true
}

func (h *handlers) closeProducer(c *gin.Context) {
	if kind, ok := producerKind(c); ok {
		respond(c, http.StatusOK, h.orch.CloseProducer(meetingID(c), identity(c), kind))
	}
}

func (h *handlers) pauseProducer(c *gin.Context) {
	if kind, ok := producerKind(c); ok {
		respond(c, http.StatusOK, h.orch.PauseProducer(c.Request.Context(), meetingID(c), identity(c), kind))
	}
}

func (h *handlers) resumeProducer(c *gin.Context) {
	if kind, ok := producerKind(c); ok {
		respond(c, http.StatusOK, h.orch.ResumeProducer(c.Request.Context(), meetingID(c), identity(c), kind))
	}
}

func (h *handlers) consume(c *gin.Context) {
	var req consumeRequest
	if !bind(c, &req) {
		return
	}
	respond(c, http.StatusOK, h.orch.ConsumeMedia(c.Request.Context(), meetingID(c), identity(c), req.ProducerID, req.RTPCapabilities))
}

func consumerID(c *gin.Context) domain.ConsumerID { return domain.ConsumerID(c.Param("consumerId")) }

func (h *handlers) closeConsumer(c *gin.Context) {
	respond(c, http.StatusOK, h.orch.CloseConsumer(meetingID(c), identity(c), consumerID(c)))
}

func (h *handlers) pauseConsumer(c *gin.Context) {
	respond(c, http.StatusOK, h.orch.PauseConsumer(c.Request.Context(), meetingID(c), identity(c), consumerID(c)))
}

func (h *handlers) resumeConsumer(c *gin.Context) {
	respond(c, http.StatusOK, h.orch.ResumeConsumer(c.Request.Context(), meetingID(c), identity(c), consumerID(c)))
}

func (h *handlers) events(c *gin.Context) {
	id := meetingID(c)
	if res := h.orch.MeetingInfo(id); !res.Ok() {
		respond(c, http.StatusOK, res)
		return
	}
	if h.hub == nil {
		fail(c, apperr.NotFound("event stream is disabled"))
		return
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}
	h.hub.Serve(id, identity(c), ws)
	// the end event may have gone out before the subscriber was registered
	if !h.orch.MeetingInfo(id).Ok() {
		h.hub.CloseMeeting(id)
	}
}
