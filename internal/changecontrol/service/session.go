package service

import (
	"context"
	"strings"

	"github.com/mssola/useragent"

	"steward/internal/audit"
	id "steward/pkg/domain"
	"steward/pkg/requestcontext"
)

// RecordLogin audits a sign-in. Client details are taken from the request
// context.
func (s *Service) RecordLogin(ctx context.Context, actor id.Principal) (auditID id.AuditEntryID, err error) {
	ctx, done := s.begin(ctx, "login", audit.EntityTypeSession)
	defer func() { done(err) }()

	if err := requireActor(actor); err != nil {
		return "", err
	}
	auditID, err = s.recorder.Record(ctx, audit.Input{
		Actor:      audit.ActorFrom(actor),
		Action:     audit.ActionLogin,
		EntityType: audit.EntityTypeSession,
		Metadata:   sessionMetadata(ctx, actor),
	})
	if err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "user logged in",
		"user_id", actor.UserID(),
		"role", actor.Role,
		"tenant_id", actor.TenantID,
	)
	return auditID, nil
}

// RecordLogout audits a sign-out and drops the user's navigation state.
func (s *Service) RecordLogout(ctx context.Context, actor id.Principal) (auditID id.AuditEntryID, err error) {
	ctx, done := s.begin(ctx, "logout", audit.EntityTypeSession)
	defer func() { done(err) }()

	if err := requireActor(actor); err != nil {
		return "", err
	}
	s.navigator.Forget(actor)
	auditID, err = s.recorder.Record(ctx, audit.Input{
		Actor:      audit.ActorFrom(actor),
		Action:     audit.ActionLogout,
		EntityType: audit.EntityTypeSession,
		Metadata:   sessionMetadata(ctx, actor),
	})
	if err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "user logged out", "user_id", actor.UserID())
	return auditID, nil
}

func sessionMetadata(ctx context.Context, actor id.Principal) map[string]any {
	meta := map[string]any{
		"role":     string(actor.Role),
		"tenantId": string(actor.TenantID.OrDefault()),
	}
	if ip := requestcontext.ClientIP(ctx); ip != "" {
		meta["ip"] = ip
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		meta["requestId"] = requestID
	}
	raw := requestcontext.UserAgent(ctx)
	if raw == "" {
		return meta
	}
	meta["userAgent"] = raw

	ua := useragent.New(raw)
	name, version := ua.Browser()
	if name != "" {
		meta["browser"] = strings.TrimSpace(name + " " + version)
	}
	if os := ua.OS(); os != "" {
		meta["os"] = os
	}
	switch {
	case ua.Bot():
		meta["device"] = "bot"
	case ua.Mobile():
		meta["device"] = "mobile"
	default:
		meta["device"] = "desktop"
	}
	return meta
}
