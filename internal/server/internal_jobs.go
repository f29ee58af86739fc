package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/clinicledger/internal/authorization"
)

// ProcessReminders runs one reminder pass for an external trigger.
func (s *Server) ProcessReminders(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.authzSvc.Authorize(ctx, internalActor(c), authorization.ObjectReminders, authorization.ActionRemindersProcess); err != nil {
		AbortWithError(c, err)
		return
	}

	summary, err := s.reminderSvc.Process(ctx)
	if err != nil && summary.Processed == 0 {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"processed":  summary.Processed,
		"successful": summary.Successful,
		"failed":     summary.Failed,
	})
}

func (s *Server) DrainOutbox(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.authzSvc.Authorize(ctx, internalActor(c), authorization.ObjectOutbox, authorization.ActionOutboxDrain); err != nil {
		AbortWithError(c, err)
		return
	}

	summary, err := s.outboxSvc.Drain(ctx, s.cfg.Jobs.OutboxBatchSize)
	if err != nil && summary.Processed == 0 {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"processed": summary.Processed,
		"sent":      summary.Sent,
		"failed":    summary.Failed,
	})
}
