package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func (s *Server) listMessages(c *gin.Context) {
	filter := store.MessageFilter{Limit: defaultPageSize}

	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, maxPageSize)
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}
	if v := c.Query("unread"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, "unread must be a boolean")
			return
		}
		filter.UnreadOnly = b
	}

	msgs, err := s.inbox.ListMessages(c.Request.Context(), c.Param("id"), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": msgs,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}

func (s *Server) getMessage(c *gin.Context) {
	view, err := s.inbox.GetMessage(c.Request.Context(), c.Param("id"), c.Param("mid"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) getRawMessage(c *gin.Context) {
	data, sealed, err := s.inbox.RawMessage(c.Request.Context(), c.Param("id"), c.Param("mid"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if sealed {
		c.Data(http.StatusOK, "application/json", data)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+c.Param("mid")+`.eml"`)
	c.Data(http.StatusOK, "message/rfc822", data)
}

// PatchMessageRequest is the body of PATCH .../messages/:mid.
type PatchMessageRequest struct {
	Read *bool `json:"read" binding:"required"`
}

func (s *Server) patchMessage(c *gin.Context) {
	var req PatchMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "read is required")
		return
	}
	if err := s.inbox.MarkRead(c.Request.Context(), c.Param("id"), c.Param("mid"), *req.Read); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteMessage(c *gin.Context) {
	if err := s.inbox.DeleteMessage(c.Request.Context(), c.Param("id"), c.Param("mid")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
