// Copyright 2025 LingoCards Authors
// SPDX-License-Identifier: Apache-2.0

package lingosync

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingocards/go-lingosync/internal/auth"
)

func TestJWTRoundTrip(t *testing.T) {
	a := NewJWTAuth("test-secret")

	token, err := a.GenerateToken("user-1", "device-a", time.Hour)
	require.NoError(t, err)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "device-a", claims.DeviceID)
	assert.Equal(t, "lingosync", claims.Issuer)
}

func TestJWTRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTAuth("secret-a").GenerateToken("user-1", "device-a", time.Hour)
	require.NoError(t, err)

	_, err = NewJWTAuth("secret-b").ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTRejectsExpiredToken(t *testing.T) {
	a := NewJWTAuth("test-secret")
	token, err := a.GenerateToken("user-1", "device-a", -time.Minute)
	require.NoError(t, err)

	_, err = a.ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTRequiresDeviceClaim(t *testing.T) {
	// Token signed with the right secret but without a did claim.
	raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	token, err := raw.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = NewJWTAuth("test-secret").ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTAuthenticatorFromRequest(t *testing.T) {
	a := NewJWTAuth("test-secret")
	token, err := a.GenerateToken("user-1", "device-a", time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/sync/pull", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	userID, err := a.GetUserID(r)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	deviceID, err := a.GetDeviceID(r)
	require.NoError(t, err)
	assert.Equal(t, "device-a", deviceID)

	// Missing header and malformed header both fail.
	bare := httptest.NewRequest(http.MethodGet, "/sync/pull", nil)
	_, err = a.GetUserID(bare)
	assert.Error(t, err)

	bad := httptest.NewRequest(http.MethodGet, "/sync/pull", nil)
	bad.Header.Set("Authorization", token)
	_, err = a.GetUserID(bad)
	assert.Error(t, err)
}

func TestJWTErrorsAreSentinels(t *testing.T) {
	a := NewJWTAuth("test-secret")

	bare := httptest.NewRequest(http.MethodGet, "/sync/pull", nil)
	_, err := a.GetUserID(bare)
	assert.ErrorIs(t, err, ErrNoAuthHeader)

	basic := httptest.NewRequest(http.MethodGet, "/sync/pull", nil)
	basic.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, err = a.GetUserID(basic)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Signature and expiry failures keep the jwt library's sentinels
	// reachable through the wrap.
	forged, err := NewJWTAuth("other-secret").GenerateToken("user-1", "device-a", time.Hour)
	require.NoError(t, err)
	_, err = a.ValidateToken(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	expired, err := a.GenerateToken("user-1", "device-a", -time.Minute)
	require.NoError(t, err)
	_, err = a.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestJWTMiddlewareInjectsIdentity(t *testing.T) {
	a := NewJWTAuth("test-secret")
	token, err := a.GenerateToken("user-1", "device-a", time.Hour)
	require.NoError(t, err)

	var gotUser, gotDevice string
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = auth.GetUserID(r.Context())
		gotDevice, _ = auth.GetDeviceID(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", gotUser)
	assert.Equal(t, "device-a", gotDevice)

	// No token: request never reaches the handler.
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
