package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testKey = "0123456789abcdef0123"

func newTestAuth(t *testing.T) *Auth {
	t.Helper()
	a, err := New(Options{
		Logger:        zap.NewNop(),
		JWTSigningKey: testKey,
	})
	require.NoError(t, err)
	return a
}

func TestNewRejectsShortKey(t *testing.T) {
	_, err := New(Options{Logger: zap.NewNop(), JWTSigningKey: "short"})
	assert.Error(t, err)

	_, err = New(Options{JWTSigningKey: testKey})
	assert.Error(t, err)
}

func TestMiddlewareAttachesClaims(t *testing.T) {
	a := newTestAuth(t)
	token, err := a.CreateTokenFromClaims(Claims{UserID: "user_1", Email: "owner@example.com"})
	require.NoError(t, err)

	var seen *Claims
	handler := a.Middleware()(a.ClaimCheck()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "user_1", seen.UserID)
	assert.Equal(t, "owner@example.com", seen.Email)
}

func TestMiddlewareRejectsBadTokens(t *testing.T) {
	a := newTestAuth(t)
	other, err := New(Options{Logger: zap.NewNop(), JWTSigningKey: "another-signing-key-0000"})
	require.NoError(t, err)
	forged, err := other.CreateTokenFromClaims(Claims{UserID: "user_1"})
	require.NoError(t, err)

	noUser, err := a.CreateTokenFromClaims(Claims{Email: "owner@example.com"})
	require.NoError(t, err)

	expired := jwt.NewWithClaims(jwtSigningMethod, Claims{
		StandardClaims: jwt.StandardClaims{ExpiresAt: 1},
		UserID:         "user_1",
	})
	expiredToken, err := expired.SignedString([]byte(testKey))
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	})

	for name, header := range map[string]string{
		"missing": "",
		"basic":   "Basic abc",
		"forged":  "Bearer " + forged,
		"no user": "Bearer " + noUser,
		"expired": "Bearer " + expiredToken,
		"garbage": "Bearer not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			a.Middleware()(next).ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}
