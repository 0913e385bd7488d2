package server

import (
	"io"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prismon/photo-library/pkg/library"
)

const eventBufferSize = 256

// handleEvents streams committed library events as server-sent events until
// the client disconnects. Events are dropped for clients that fall behind;
// the version on the next delivered event tells them to refetch.
func (s *Server) handleEvents(c *gin.Context) {
	events := make(chan library.Event, eventBufferSize)
	var dropped atomic.Int64
	unsubscribe := s.engine.Subscribe(func(ev library.Event) {
		select {
		case events <- ev:
		default:
			dropped.Add(1)
		}
	})
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("hello", gin.H{"version": s.engine.Version()})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev := <-events:
			c.SSEvent(string(ev.Type), ev)
			if n := dropped.Swap(0); n > 0 {
				log.WithField("dropped", n).Warn("Event stream client fell behind")
				c.SSEvent("dropped", gin.H{"count": n, "version": ev.Version})
			}
			return true
		}
	})
}
