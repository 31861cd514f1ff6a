package api

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nhle/tempmail/internal/source"
	isync "github.com/nhle/tempmail/internal/sync"
)

// maxInjectBytes caps messages posted to the admin inject route.
const maxInjectBytes = 50 << 20

func (s *Server) getSources(c *gin.Context) {
	statuses := []isync.SyncStatus{}
	if s.sources != nil {
		statuses = append(statuses, s.sources.Statuses()...)
	}
	c.JSON(http.StatusOK, gin.H{"sources": statuses})
}

func (s *Server) syncSource(c *gin.Context) {
	if s.sources == nil || !s.sources.Trigger(c.Param("name")) {
		c.AbortWithStatusJSON(http.StatusNotFound, errorResponse{Error: "unknown source", Code: "not_found"})
		return
	}
	c.Status(http.StatusAccepted)
}

// injectMessage ingests a raw RFC 5322 body. Envelope recipients may be
// given as repeated or comma separated "rcpt" query parameters.
func (s *Server) injectMessage(c *gin.Context) {
	if s.injector == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, errorResponse{Error: "ingest disabled", Code: "not_found"})
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxInjectBytes))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorResponse{Error: "message too large", Code: "too_large"})
		return
	}
	if len(data) == 0 {
		badRequest(c, "empty message")
		return
	}

	var rcpts []string
	for _, v := range c.QueryArray("rcpt") {
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				rcpts = append(rcpts, r)
			}
		}
	}

	res, err := s.injector.Ingest(c.Request.Context(), source.RawMessage{
		Source:     source.SourceTypeAPI,
		Recipients: rcpts,
		Data:       data,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	status := http.StatusAccepted
	if res.Stored > 0 {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"matched":     res.Matched,
		"stored":      res.Stored,
		"duplicates":  res.Duplicates,
		"rejected":    len(res.Rejected),
		"message_ids": res.MessageIDs,
	})
}
