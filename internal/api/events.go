package api

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

// streamEvents sends hub events for one address as server-sent events.
// A comment line goes out every heartbeat so proxies keep the
// connection open.
func (s *Server) streamEvents(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.inbox.Get(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}

	events, cancel := s.hub.Subscribe(id)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	_, _ = io.WriteString(c.Writer, ": connected\n\n")
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-s.stopping:
			return false
		case e, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(e.Type), e)
			return true
		case <-heartbeat.C:
			_, err := io.WriteString(w, ": heartbeat\n\n")
			return err == nil
		}
	})
}
