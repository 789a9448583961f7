package webhook

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go/twiml"

	"github.com/zulandar/signalbox/internal/lark"
)

// voiceMessage is read to the callee when an on-call call connects.
const voiceMessage = "Attention. A P zero incident has been declared. " +
	"Please open Lark and join the emergency meeting now."

type handlers struct {
	encryptKey string
	events     Enqueuer
}

// larkEvent acknowledges immediately; processing happens on the event queue.
func (h *handlers) larkEvent(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": 1, "msg": "unreadable body"})
		return
	}
	env, err := lark.ParseEnvelope(body, h.encryptKey)
	if err != nil {
		requestLogger(c).Warn().Err(err).Msg("bad lark payload")
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": 1, "msg": "bad payload"})
		return
	}
	if env.IsURLVerification() {
		c.JSON(http.StatusOK, gin.H{"challenge": env.Challenge})
		return
	}
	h.events.Enqueue(env)
	c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "success"})
}

// twilioVoice returns the TwiML script for an outbound on-call call.
func (h *handlers) twilioVoice(c *gin.Context) {
	requestLogger(c).Info().
		Str("incident_chat_id", c.Query("incident_chat_id")).
		Str("notify_chat_id", c.Query("notify_chat_id")).
		Msg("voice callback")

	doc, err := twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{Message: voiceMessage, Loop: "2"},
		&twiml.VoicePause{Length: "1"},
		&twiml.VoiceSay{Message: "Goodbye."},
	})
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "application/xml", []byte(doc))
}
