// Copyright 2025 LingoCards Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth carries the authenticated identity through request contexts.
package auth

import (
	"context"
)

type contextKey struct{}

type identity struct {
	userID   string
	deviceID string
}

// SetAuthContext returns a context carrying the authenticated user and the
// device the request token was issued to.
func SetAuthContext(ctx context.Context, userID, deviceID string) context.Context {
	return context.WithValue(ctx, contextKey{}, identity{userID: userID, deviceID: deviceID})
}

// GetUserID retrieves the authenticated user ID from the context.
func GetUserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(identity)
	return id.userID, ok
}

// GetDeviceID retrieves the device ID from the context.
func GetDeviceID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(identity)
	return id.deviceID, ok
}
