package server

import (
	"crypto/subtle"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/clinicledger/internal/observability/context"
)

const (
	HeaderPractitioner   = "X-Practitioner-ID"
	HeaderInternalSecret = "X-Internal-Secret"
	HeaderInternalActor  = "X-Internal-Actor"

	contextPractitionerIDKey = "practitioner_id"
	contextActorKey          = "internal_actor"
)

// PractitionerContext resolves the practitioner forwarded by the gateway.
func PractitionerContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderPractitioner))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		id, err := snowflake.ParseString(raw)
		if err != nil || id <= 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextPractitionerIDKey, id)
		ctx := obscontext.WithPractitionerID(c.Request.Context(), id.String())
		ctx = obscontext.WithActor(ctx, "practitioner", id.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func practitionerID(c *gin.Context) snowflake.ID {
	if v, ok := c.Get(contextPractitionerIDKey); ok {
		if id, ok := v.(snowflake.ID); ok {
			return id
		}
	}
	return 0
}

// InternalAuth checks the shared trigger secret. An empty configured secret
// closes the internal routes entirely.
func (s *Server) InternalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := s.cfg.Internal.TriggerSecret
		provided := strings.TrimSpace(c.GetHeader(HeaderInternalSecret))
		if expected == "" || provided == "" ||
			subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		actor := strings.TrimSpace(c.GetHeader(HeaderInternalActor))
		if actor == "" {
			actor = s.cfg.Internal.TriggerActor
		}
		c.Set(contextActorKey, actor)
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), "internal", actor))
		c.Next()
	}
}

func internalActor(c *gin.Context) string {
	return c.GetString(contextActorKey)
}
