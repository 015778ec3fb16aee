// Copyright 2025 The GeoProof Authors
// SPDX-License-Identifier: Apache-2.0

package submission

import (
	"context"
	"log"
)

// SessionManager is told when the backend rejects the worker's credentials.
type SessionManager interface {
	SessionExpired(ctx context.Context, cause error)
}

// LogSessionManager only logs; the CLI has no session to refresh.
type LogSessionManager struct{}

// SessionExpired implements SessionManager.
func (LogSessionManager) SessionExpired(_ context.Context, cause error) {
	log.Printf("Session rejected by backend, sign in again: %v", cause)
}
