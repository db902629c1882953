// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit emits security-relevant events to pluggable sinks. Emit
// never blocks the request path and never fails the calling operation:
// sink errors are logged and dropped.
package audit

import (
	"context"
	"time"

	"github.com/authgate/authgate/pkg/logger"
	"github.com/authgate/authgate/pkg/storage"
)

// Event names emitted by the server.
const (
	EventLoginSuccess         = "login_success"
	EventLoginFailure         = "login_failure"
	EventAccountLocked        = "account_locked"
	EventAccountUnlocked      = "account_unlocked"
	EventIPBanned             = "ip_banned"
	EventIPUnbanned           = "ip_unbanned"
	EventTokenIssued          = "token_issued"
	EventTokenRefreshed       = "token_refreshed"
	EventTokenRevoked         = "token_revoked"
	EventClientRegistered     = "client_registered"
	EventAuthorizationGranted = "authorization_granted"
	EventAuthorizationDenied  = "authorization_denied"
	EventKeyRotated           = "key_rotated"
	EventRateLimited          = "rate_limited"
)

// Event names reserved for embedding applications that manage the user
// collection themselves. The server never emits these.
const (
	EventUserCreated            = "user_created"
	EventUserDeleted            = "user_deleted"
	EventPasswordChanged        = "password_changed"
	EventPasswordResetRequested = "password_reset_requested"
)

// Actor identifies who triggered an event. Either field may be empty.
type Actor struct {
	UserID   string `json:"userId,omitempty"`
	ClientID string `json:"clientId,omitempty"`
	IP       string `json:"ip,omitempty"`
}

// Event is one audit record.
type Event struct {
	Event     string         `json:"event"`
	Actor     Actor          `json:"actor"`
	Resource  string         `json:"resource,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink receives audit events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Write(ctx context.Context, ev *Event) error
}

// Emitter fans events out to its sinks.
type Emitter struct {
	sinks []Sink
}

// NewEmitter creates an emitter over the given sinks. An emitter with no
// sinks is valid and drops everything.
func NewEmitter(sinks ...Sink) *Emitter {
	return &Emitter{sinks: sinks}
}

// Emit stamps the event and hands it to every sink. Sink failures are
// logged, never surfaced; a nil emitter drops the event.
func (e *Emitter) Emit(ctx context.Context, ev *Event) {
	if e == nil || ev == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	for _, sink := range e.sinks {
		if err := sink.Write(ctx, ev); err != nil {
			logger.Warnw("audit sink write failed", "event", ev.Event, "error", err)
		}
	}
}

// LogSink writes events to the process logger.
type LogSink struct{}

// Write implements Sink.
func (LogSink) Write(_ context.Context, ev *Event) error {
	logger.Infow("audit",
		"event", ev.Event,
		"userId", ev.Actor.UserID,
		"clientId", ev.Actor.ClientID,
		"ip", ev.Actor.IP,
		"resource", ev.Resource,
		"metadata", ev.Metadata,
	)
	return nil
}

// StoreSink appends events to a record-store collection.
type StoreSink struct {
	Events storage.Collection
}

// Write implements Sink.
func (s *StoreSink) Write(ctx context.Context, ev *Event) error {
	rec, err := storage.Encode(ev)
	if err != nil {
		return err
	}
	_, err = s.Events.Insert(ctx, rec)
	return err
}
