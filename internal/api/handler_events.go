package api

import (
	"io"

	"github.com/gin-gonic/gin"
)

// StreamEvents handles GET /api/events: a server-sent-event stream of every
// accepted mutation. Disconnecting clients are cleaned up via the request
// context; missed events are recovered through the list endpoint, never
// replayed here.
func (h *Handler) StreamEvents(c *gin.Context) {
	sub := h.broadcaster.Subscribe()
	defer sub.Close()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	// The stream opens with the reconciliation tuning so the dashboard's
	// local merge uses the server's values, not hardcoded ones.
	c.SSEvent("sync_config", gin.H{
		"stale_tolerance_ms": h.sync.StaleTolerance.Milliseconds(),
		"echo_window_ms":     h.sync.EchoWindow.Milliseconds(),
		"pending_grace_ms":   h.sync.PendingGrace.Milliseconds(),
	})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
