package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/tempmail/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testAddress(expires time.Time) model.Address {
	return model.Address{ID: "addr-1", LocalPart: "box", Domain: "temp.test", ExpiresAt: expires}
}

func TestIssueParse(t *testing.T) {
	iss, err := NewIssuer([]byte("secret"))
	require.NoError(t, err)

	tok, err := iss.Issue(testAddress(time.Now().Add(time.Hour)))
	require.NoError(t, err)

	claims, err := iss.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "addr-1", claims.AddressID)
	assert.Equal(t, "box@temp.test", claims.Email)
	assert.Equal(t, "addr-1", claims.Subject)
}

func TestParse_Rejects(t *testing.T) {
	iss, err := NewIssuer([]byte("secret"))
	require.NoError(t, err)

	expired, err := iss.Issue(testAddress(time.Now().Add(-time.Minute)))
	require.NoError(t, err)

	other, err := NewIssuer([]byte("other"))
	require.NoError(t, err)
	wrongKey, err := other.Issue(testAddress(time.Now().Add(time.Hour)))
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{AddressID: "addr-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{AddressID: "addr-1"}).
		SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"expired":   expired,
		"wrong key": wrongKey,
		"alg none":  none,
		"no exp":    noExp,
		"garbage":   "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := iss.Parse(tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNewIssuer_EmptySecret(t *testing.T) {
	_, err := NewIssuer(nil)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	iss, err := NewIssuer([]byte("secret"))
	require.NoError(t, err)
	tok, err := iss.Issue(testAddress(time.Now().Add(time.Hour)))
	require.NoError(t, err)

	r := gin.New()
	r.GET("/addresses/:id", iss.Middleware("id"), func(c *gin.Context) {
		claims := c.MustGet(ClaimsKey).(*Claims)
		c.String(http.StatusOK, claims.Email)
	})

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{name: "ok", path: "/addresses/addr-1", header: "Bearer " + tok, want: http.StatusOK},
		{name: "lowercase scheme", path: "/addresses/addr-1", header: "bearer " + tok, want: http.StatusOK},
		{name: "query token", path: "/addresses/addr-1?token=" + tok, want: http.StatusOK},
		{name: "missing", path: "/addresses/addr-1", want: http.StatusUnauthorized},
		{name: "bad token", path: "/addresses/addr-1", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "basic scheme", path: "/addresses/addr-1", header: "Basic " + tok, want: http.StatusUnauthorized},
		{name: "other address", path: "/addresses/addr-2", header: "Bearer " + tok, want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "box@temp.test", w.Body.String())
			}
		})
	}
}

func TestAdminMiddleware(t *testing.T) {
	newRouter := func(token string) *gin.Engine {
		r := gin.New()
		r.GET("/admin", AdminMiddleware(token), func(c *gin.Context) { c.Status(http.StatusNoContent) })
		return r
	}

	do := func(r *gin.Engine, header string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusNotFound, do(newRouter(""), "Bearer x"))
	r := newRouter("s3cret")
	assert.Equal(t, http.StatusNoContent, do(r, "Bearer s3cret"))
	assert.Equal(t, http.StatusUnauthorized, do(r, "Bearer wrong"))
	assert.Equal(t, http.StatusUnauthorized, do(r, ""))
}
