package http

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Avatar/internal/app"
	"github.com/dkeye/Avatar/internal/core"
	"github.com/dkeye/Avatar/internal/domain"
)

const sessionStreamKey = "stream_id"

type DescriptionRequest struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

type AnswerRequest struct {
	SDP      string `json:"sdp"`
	Type     string `json:"type"`
	StreamID string `json:"stream_id"`
}

type OfferResponse struct {
	ID    string                    `json:"id"`
	Offer webrtc.SessionDescription `json:"offer"`
}

type handlers struct {
	svc *app.RelayService
}

func description(sdpBody, typ string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(typ), SDP: sdpBody}
}

func clientToken(c *gin.Context) (domain.ClientToken, bool) {
	ct, err := domain.ParseClientToken(c.GetString("client_token"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return ct, true
}

func (h *handlers) offer(c *gin.Context) {
	owner, ok := clientToken(c)
	if !ok {
		return
	}
	var req DescriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offer body"})
		return
	}

	st, remote, err := h.svc.Offer(c.Request.Context(), owner, description(req.SDP, req.Type))
	if err != nil {
		writeError(c, err)
		return
	}

	sess := sessions.Default(c)
	sess.Set(sessionStreamKey, string(st.ID))
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
	}
	c.JSON(http.StatusOK, OfferResponse{ID: string(st.ID), Offer: remote})
}

func (h *handlers) answer(c *gin.Context) {
	owner, ok := clientToken(c)
	if !ok {
		return
	}
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid answer body"})
		return
	}

	st, err := h.svc.Answer(c.Request.Context(), owner, core.StreamID(req.StreamID), description(req.SDP, req.Type))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, core.Ack{Status: "ok", StreamID: st.ID})
}

func (h *handlers) closeStream(c *gin.Context) {
	owner, ok := clientToken(c)
	if !ok {
		return
	}
	id := core.StreamID(c.Param("id"))
	if err := h.svc.Close(c.Request.Context(), owner, id); err != nil {
		writeError(c, err)
		return
	}

	sess := sessions.Default(c)
	if sess.Get(sessionStreamKey) == string(id) {
		sess.Delete(sessionStreamKey)
		_ = sess.Save()
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

// session reports which client the caller is and its latest stream.
func (h *handlers) session(c *gin.Context) {
	streamID, _ := sessions.Default(c).Get(sessionStreamKey).(string)
	c.JSON(http.StatusOK, gin.H{
		"client_token": c.GetString("client_token"),
		"stream_id":    streamID,
	})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrInvalidOffer),
		errors.Is(err, core.ErrInvalidAnswer),
		errors.Is(err, core.ErrInvalidStreamID):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrStreamNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrStreamOwner):
		status = http.StatusConflict
	case errors.Is(err, core.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, core.ErrUpstream):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Int("status", status).Msg("request failed")
	} else {
		log.Warn().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Int("status", status).Msg("request rejected")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
