package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nhle/tempmail/internal/address"
	"github.com/nhle/tempmail/internal/codec"
	"github.com/nhle/tempmail/internal/inbox"
	"github.com/nhle/tempmail/internal/store"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errorTable = []struct {
	err    error
	status int
	code   string
}{
	{store.ErrNotFound, http.StatusNotFound, "not_found"},
	{store.ErrConflict, http.StatusConflict, "conflict"},
	{address.ErrExhausted, http.StatusConflict, "address_taken"},
	{address.ErrInvalidLocalPart, http.StatusBadRequest, "invalid_local_part"},
	{address.ErrReservedLocalPart, http.StatusBadRequest, "reserved_local_part"},
	{address.ErrDomainNotAccepted, http.StatusBadRequest, "domain_not_accepted"},
	{address.ErrCustomNotAllowed, http.StatusForbidden, "custom_not_allowed"},
	{inbox.ErrInvalidTier, http.StatusBadRequest, "invalid_tier"},
	{inbox.ErrInvalidMode, http.StatusBadRequest, "invalid_mode"},
	{inbox.ErrInvalidTTL, http.StatusBadRequest, "invalid_ttl"},
	{inbox.ErrPublicKeyNotAllowed, http.StatusBadRequest, "public_key_not_allowed"},
	{inbox.ErrManagedUnavailable, http.StatusServiceUnavailable, "managed_unavailable"},
	{codec.ErrInvalidPublicKeySize, http.StatusBadRequest, "invalid_public_key"},
}

// writeError maps err to a status code. Unknown errors are logged and
// reported as 500 without detail.
func (s *Server) writeError(c *gin.Context, err error) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			c.AbortWithStatusJSON(e.status, errorResponse{Error: err.Error(), Code: e.code})
			return
		}
	}
	s.logger.Error("request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal"})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: msg, Code: "bad_request"})
}
