// Package auth issues and checks the bearer tokens that grant access to
// one address.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/nhle/tempmail/internal/model"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrForbidden    = errors.New("token does not grant access to this address")
)

// ClaimsKey is the gin context key holding *Claims after Middleware.
const ClaimsKey = "auth.claims"

// Claims are the token claims for one address.
type Claims struct {
	AddressID string `json:"aid"`
	Email     string `json:"email"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 address tokens.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// NewIssuer returns an Issuer. The secret must not be empty.
func NewIssuer(secret []byte) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is empty")
	}
	return &Issuer{secret: secret, now: time.Now}, nil
}

// Issue creates a token for a that expires together with it.
func (i *Issuer) Issue(a model.Address) (string, error) {
	claims := &Claims{
		AddressID: a.ID,
		Email:     a.Email(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.ID,
			ExpiresAt: jwt.NewNumericDate(a.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(i.now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Parse verifies tokenStr and returns its claims.
func (i *Issuer) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.AddressID == "" {
		return nil, fmt.Errorf("%w: no address id", ErrInvalidToken)
	}
	return claims, nil
}

func bearer(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func abort(c *gin.Context, status int, code string, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "code": code})
}

// Middleware requires a valid token whose address matches the param
// path parameter. EventSource clients cannot set headers, so a
// "token" query parameter is accepted too.
func (i *Issuer) Middleware(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := bearer(c)
		if !ok {
			tokenStr = c.Query("token")
		}
		if tokenStr == "" {
			abort(c, http.StatusUnauthorized, "unauthorized", ErrMissingToken)
			return
		}

		claims, err := i.Parse(tokenStr)
		if err != nil {
			abort(c, http.StatusUnauthorized, "unauthorized", ErrInvalidToken)
			return
		}
		if claims.AddressID != c.Param(param) {
			abort(c, http.StatusForbidden, "forbidden", ErrForbidden)
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// AdminMiddleware guards admin routes with a static bearer token. An
// empty token disables the routes.
func AdminMiddleware(adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminToken == "" {
			abort(c, http.StatusNotFound, "not_found", errors.New("admin api disabled"))
			return
		}
		tokenStr, ok := bearer(c)
		if !ok || subtle.ConstantTimeCompare([]byte(tokenStr), []byte(adminToken)) != 1 {
			abort(c, http.StatusUnauthorized, "unauthorized", ErrInvalidToken)
			return
		}
		c.Next()
	}
}
