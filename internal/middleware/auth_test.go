package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func validClaims(role string) jwt.MapClaims {
	return jwt.MapClaims{
		"user_id": "user-1",
		"email":   "user@swiftdash.dev",
		"role":    role,
		"iat":     time.Now().Unix(),
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
}

func TestParseToken(t *testing.T) {
	t.Setenv("APP_JWT_SECRET", testSecret)

	claims, err := ParseToken(signToken(t, validClaims("partner")))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "partner", claims.Role)

	// Expired token
	expired := validClaims("partner")
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	_, err = ParseToken(signToken(t, expired))
	assert.Error(t, err)

	// Wrong signing key
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims("partner"))
	forged, err := token.SignedString([]byte("other-secret"))
	require.NoError(t, err)
	_, err = ParseToken(forged)
	assert.Error(t, err)

	// Missing role claim
	bad := validClaims("partner")
	delete(bad, "role")
	_, err = ParseToken(signToken(t, bad))
	assert.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	t.Setenv("APP_JWT_SECRET", testSecret)

	handler := Auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetUserFromContext(r)
		require.True(t, ok)
		assert.Equal(t, "user-1", claims.UserID)
		w.WriteHeader(http.StatusOK)
	}))

	// Missing header
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Malformed header
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Token abc")
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid bearer token
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, validClaims("client")))
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRole(t *testing.T) {
	t.Setenv("APP_JWT_SECRET", testSecret)

	handler := Auth(RequireRole("partner", "admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	call := func(role string) int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, validClaims(role)))
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("partner"))
	assert.Equal(t, http.StatusOK, call("admin"))
	assert.Equal(t, http.StatusForbidden, call("client"))
	assert.Equal(t, http.StatusForbidden, call("store"))
}
