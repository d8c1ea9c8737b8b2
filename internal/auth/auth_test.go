package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "s3cret"

func protected(am *AuthManager) http.Handler {
	return am.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := ClaimsFrom(r.Context()); ok {
			w.Header().Set("X-User", claims.Username)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
}

func do(h http.Handler, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDisabledLetsEverythingThrough(t *testing.T) {
	am := NewAuthManager(Config{})
	assert.False(t, am.Enabled())
	assert.Equal(t, http.StatusNoContent, do(protected(am), "/", nil).Code)
}

func TestJWTRoundTrip(t *testing.T) {
	am := NewAuthManager(Config{JWTSecret: secret})
	token, err := am.GenerateJWT("ana", "admin", time.Hour)
	require.NoError(t, err)

	claims, err := am.ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "ana", claims.Username)
	assert.Equal(t, "admin", claims.Role)

	rec := do(protected(am), "/", map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "ana", rec.Header().Get("X-User"))

	rec = do(protected(am), "/ws?token="+token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRejectedTokens(t *testing.T) {
	am := NewAuthManager(Config{JWTSecret: secret})
	expired, err := am.GenerateJWT("ana", "admin", -time.Minute)
	require.NoError(t, err)
	foreign, err := NewAuthManager(Config{JWTSecret: "other"}).GenerateJWT("ana", "admin", time.Hour)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Username: "ana"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic abc"},
		{"expired", "Bearer " + expired},
		{"wrong secret", "Bearer " + foreign},
		{"unsigned", "Bearer " + none},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := map[string]string{}
			if tt.header != "" {
				header["Authorization"] = tt.header
			}
			assert.Equal(t, http.StatusUnauthorized, do(protected(am), "/", header).Code)
		})
	}
}

func TestAPIKey(t *testing.T) {
	am := NewAuthManager(Config{APIKeys: []string{"k1", "k2"}})
	assert.True(t, am.Enabled())
	assert.Equal(t, http.StatusNoContent, do(protected(am), "/", map[string]string{"X-API-Key": "k2"}).Code)
	assert.Equal(t, http.StatusUnauthorized, do(protected(am), "/", map[string]string{"X-API-Key": "nope"}).Code)
	// no JWT secret configured, so a bearer token cannot authenticate
	assert.Equal(t, http.StatusUnauthorized, do(protected(am), "/", map[string]string{"Authorization": "Bearer x"}).Code)
}
