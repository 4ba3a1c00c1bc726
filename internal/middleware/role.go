package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aura-webinar/liveclass/internal/httputil"
	"github.com/aura-webinar/liveclass/internal/models"
	"github.com/aura-webinar/liveclass/pkg/response"
)

// RequireRole admits platform accounts whose JWT role is one of roles.
// It runs after JWT.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := roleSet(roles)
	denied := "requires role " + strings.Join(roles, " or ")
	return func(c *gin.Context) {
		role, ok := c.Get(ContextUserRole)
		if !ok {
			response.Unauthorized(c, "authentication required")
			c.Abort()
			return
		}
		if name, _ := role.(string); !allowed[name] {
			response.Forbidden(c, denied)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireParticipantRole admits session participants with one of roles.
// It runs after SignalingKey.
func RequireParticipantRole(roles ...models.ParticipantRole) gin.HandlerFunc {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, string(r))
	}
	allowed := roleSet(names)
	return func(c *gin.Context) {
		p := Participant(c)
		if p == nil {
			httputil.RespondError(c, nil, models.ErrInvalidSignalingKey)
			c.Abort()
			return
		}
		if !allowed[string(p.Role)] {
			httputil.RespondError(c, nil, models.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

func roleSet(roles []string) map[string]bool {
	set := make(map[string]bool, len(roles))
	for _, r := range roles {
		set[r] = true
	}
	return set
}
