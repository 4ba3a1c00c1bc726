package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveclass/internal/httputil"
	"github.com/aura-webinar/liveclass/internal/models"
)

const (
	// HeaderSignalingKey carries the participant's signaling key.
	HeaderSignalingKey = "X-Signaling-Key"
	// ContextParticipant holds the *models.Participant resolved from the key.
	ContextParticipant = "participant"
)

// KeyAuthenticator resolves a signaling key without side effects.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, key string) (*models.Participant, error)
}

// SignalingKey authenticates participant-scoped routes. The key is read from
// the X-Signaling-Key header, falling back to ?key=.
func SignalingKey(authn KeyAuthenticator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderSignalingKey))
		if key == "" {
			key = strings.TrimSpace(c.Query("key"))
		}
		if key == "" {
			httputil.RespondError(c, logger, models.ErrInvalidSignalingKey)
			c.Abort()
			return
		}
		p, err := authn.Authenticate(c.Request.Context(), key)
		if err != nil {
			httputil.RespondError(c, logger, err)
			c.Abort()
			return
		}
		c.Set(ContextParticipant, p)
		c.Next()
	}
}

// Participant returns the participant set by SignalingKey.
func Participant(c *gin.Context) *models.Participant {
	v, ok := c.Get(ContextParticipant)
	if !ok {
		return nil
	}
	p, _ := v.(*models.Participant)
	return p
}
