package session

import (
	"log/slog"

	"github.com/MegaGrindStone/stream-chat-ui/internal/models"
)

// reply is the stream.Sink of one submission. It drives the Sending → Streaming → Idle transitions.
type reply struct {
	c *Controller
}

func (r *reply) Opened() string {
	c := r.c
	c.mu.Lock()

	id := c.store.NextID()
	c.store.Append(models.Message{
		ID:        id,
		Role:      models.RoleAssistant,
		CreatedAt: c.now(),
	})
	c.phase = models.PhaseStreaming

	c.publishAndUnlock()
	return id
}

func (r *reply) Append(id, fragment string) error {
	c := r.c
	c.mu.Lock()

	if err := c.store.MutateContent(id, func(prev string) string { return prev + fragment }); err != nil {
		c.mu.Unlock()
		return err
	}

	c.publishAndUnlock()
	return nil
}

func (r *reply) Closed(err error) {
	c := r.c
	c.mu.Lock()

	c.phase = models.PhaseIdle
	c.handle = nil
	c.lastErr = ""
	if err != nil {
		c.logger.Error("Reply stream failed", slog.String(errLoggerKey, err.Error()))
		c.lastErr = err.Error()
	}

	c.publishAndUnlock()
}

const errLoggerKey = "err"
