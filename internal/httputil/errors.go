// Package httputil maps domain errors onto the API response envelope.
package httputil

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveclass/internal/models"
	"github.com/aura-webinar/liveclass/pkg/response"
)

type mapping struct {
	err    error
	status int
	code   string
}

var mappings = []mapping{
	{models.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{models.ErrParticipantNotFound, http.StatusNotFound, "participant_not_found"},
	{models.ErrRoomNotFound, http.StatusNotFound, "room_not_found"},
	{models.ErrHandRaiseNotFound, http.StatusNotFound, "hand_raise_not_found"},
	{models.ErrRecordingNotFound, http.StatusNotFound, "recording_not_found"},
	{models.ErrSessionEnded, http.StatusGone, "session_ended"},
	{models.ErrSessionNotLive, http.StatusConflict, "session_not_live"},
	{models.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{models.ErrScreenShareBusy, http.StatusConflict, "screen_share_busy"},
	{models.ErrScreenShareDisabled, http.StatusForbidden, "screen_share_disabled"},
	{models.ErrInvalidMessage, http.StatusUnprocessableEntity, "invalid_message"},
	{models.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{models.ErrInvalidSignalingKey, http.StatusUnauthorized, "invalid_signaling_key"},
	{models.ErrInvalidPasscode, http.StatusUnauthorized, "invalid_passcode"},
	{models.ErrInvalidHostSecret, http.StatusForbidden, "invalid_host_secret"},
	{models.ErrSessionLocked, http.StatusForbidden, "session_locked"},
	{models.ErrParticipantBanned, http.StatusForbidden, "participant_banned"},
	{models.ErrParticipantWaiting, http.StatusForbidden, "participant_waiting"},
	{models.ErrForbidden, http.StatusForbidden, "forbidden"},
}

// Classify returns the HTTP status and machine-readable code for err.
// Unknown errors are 500 / "internal".
func Classify(err error) (int, string) {
	for _, m := range mappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// Message returns the text safe to show a client. Internal errors are
// replaced with a generic message; signaling key failures are never detailed.
func Message(err error) string {
	status, _ := Classify(err)
	switch {
	case status == http.StatusInternalServerError:
		return "internal server error"
	case errors.Is(err, models.ErrInvalidSignalingKey):
		return models.ErrInvalidSignalingKey.Error()
	}
	return err.Error()
}

// RespondError writes err to the client and logs it when it is unexpected.
func RespondError(c *gin.Context, logger *zap.Logger, err error) {
	status, code := Classify(err)
	if status == http.StatusInternalServerError && logger != nil {
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	response.Fail(c, status, code, Message(err))
}
