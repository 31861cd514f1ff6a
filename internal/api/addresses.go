package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nhle/tempmail/internal/codec"
	"github.com/nhle/tempmail/internal/inbox"
	"github.com/nhle/tempmail/internal/model"
)

// AddressView is the JSON form of an address.
type AddressView struct {
	ID           string               `json:"id"`
	Email        string               `json:"email"`
	Tier         model.Tier           `json:"tier"`
	Mode         model.EncryptionMode `json:"mode"`
	PublicKey    string               `json:"public_key"`
	CreatedAt    time.Time            `json:"created_at"`
	ExpiresAt    time.Time            `json:"expires_at"`
	TTLSeconds   int64                `json:"ttl_seconds"`
	MessageCount int                  `json:"message_count"`
}

func addressView(a model.Address, now time.Time) AddressView {
	return AddressView{
		ID:           a.ID,
		Email:        a.Email(),
		Tier:         a.Tier,
		Mode:         a.Mode,
		PublicKey:    codec.ToBase64URL(a.PublicKey),
		CreatedAt:    a.CreatedAt,
		ExpiresAt:    a.ExpiresAt,
		TTLSeconds:   int64(a.TTLRemaining(now).Seconds()),
		MessageCount: a.MessageCount,
	}
}

// CreateAddressRequest is the body of POST /api/addresses.
type CreateAddressRequest struct {
	Domain     string               `json:"domain"`
	LocalPart  string               `json:"local_part"`
	Tier       model.Tier           `json:"tier"`
	TTLSeconds int64                `json:"ttl_seconds"`
	Mode       model.EncryptionMode `json:"mode"`
	// PublicKey is a base64url ML-KEM-768 key for sealed mode.
	PublicKey string `json:"public_key"`
}

// AddressResponse is returned on create and extend.
type AddressResponse struct {
	Address AddressView `json:"address"`
	Token   string      `json:"token"`
	// SecretKey is returned once, for server-generated sealed keys.
	SecretKey string `json:"secret_key,omitempty"`
}

func (s *Server) getDomains(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"domains": s.inbox.Domains()})
}

func (s *Server) getServerKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"algorithm":  codec.AlgSig,
		"public_key": codec.ToBase64URL(s.inbox.ServerKey()),
	})
}

func (s *Server) createAddress(c *gin.Context) {
	var req CreateAddressRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body: "+err.Error())
			return
		}
	}

	var pk []byte
	if req.PublicKey != "" {
		var err error
		pk, err = codec.DecodeBase64(req.PublicKey)
		if err != nil {
			badRequest(c, "public_key is not valid base64")
			return
		}
	}

	created, err := s.inbox.Create(c.Request.Context(), inbox.CreateRequest{
		Domain:    req.Domain,
		LocalPart: req.LocalPart,
		Tier:      req.Tier,
		TTL:       time.Duration(req.TTLSeconds) * time.Second,
		Mode:      req.Mode,
		PublicKey: pk,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp := AddressResponse{
		Address: addressView(created.Address, time.Now()),
		Token:   created.Token,
	}
	if created.SecretKey != nil {
		resp.SecretKey = codec.ToBase64URL(created.SecretKey)
	}
	c.Header("Location", "/api/addresses/"+created.Address.ID)
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) getAddress(c *gin.Context) {
	a, err := s.inbox.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": addressView(*a, time.Now())})
}

// ExtendRequest is the body of POST /api/addresses/:id/extend.
type ExtendRequest struct {
	Seconds int64 `json:"seconds" binding:"required,gt=0"`
}

func (s *Server) extendAddress(c *gin.Context) {
	var req ExtendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "seconds must be a positive number")
		return
	}

	a, token, err := s.inbox.Extend(c.Request.Context(), c.Param("id"), time.Duration(req.Seconds)*time.Second)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, AddressResponse{Address: addressView(*a, time.Now()), Token: token})
}

func (s *Server) deleteAddress(c *gin.Context) {
	if err := s.inbox.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getNotifications(c *gin.Context) {
	ns, err := s.inbox.Notifications(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if ns == nil {
		ns = []model.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": ns})
}
