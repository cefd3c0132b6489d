package services

import (
	"context"
	"log/slog"

	"helpdesk/internal/status"
	"helpdesk/models"
	"helpdesk/security"
)

type AuditAPI interface {
	ListAudit(ctx context.Context, token string) ([]models.AuditEntry, error)
}

// AuditReader lists the audit log. Entries are never cached.
type AuditReader struct {
	api     AuditAPI
	session SessionSource
	log     *slog.Logger
}

func NewAuditReader(api AuditAPI, session SessionSource, logger *slog.Logger) *AuditReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditReader{api: api, session: session, log: logger.With("component", "audit")}
}

func (r *AuditReader) List(ctx context.Context) ([]models.AuditEntry, error) {
	const op = "audit.list"

	sess := r.session.Snapshot()
	if !sess.Authenticated() {
		return nil, status.New(op, status.KindSession, status.ErrNoSession)
	}
	if !security.Allowed(sess.Role(), security.ViewAudit) {
		return nil, &status.Error{Op: op, Kind: status.KindForbidden, Detail: "the audit log is for administrators"}
	}

	entries, err := r.api.ListAudit(ctx, sess.Token)
	if err != nil {
		r.log.Warn("audit listing failed", "kind", status.KindOf(err), "error", err)
		if status.Is(err, status.KindSession) {
			if ierr := r.session.Invalidate(ctx, err); ierr != nil {
				r.log.Error("cannot invalidate session", "error", ierr)
			}
		}
		return nil, err
	}
	return entries, nil
}
