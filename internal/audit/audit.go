// Package audit fans state-transition records out to one or more sinks.
// Approval transitions are audited inside the recording transaction by the
// store itself; the sinks here cover everything recorded outside that path
// (case runs, imports, proposal creation).
package audit

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/obligations-cli/internal/model"
	"github.com/sells-group/obligations-cli/internal/store"
)

// Sink receives audit entries. Implementations must be safe for concurrent
// use.
type Sink interface {
	Append(ctx context.Context, entry model.AuditEntry) error
}

// StoreSink persists entries to the audit_log table.
type StoreSink struct {
	st store.Store
}

func NewStoreSink(st store.Store) *StoreSink {
	return &StoreSink{st: st}
}

func (s *StoreSink) Append(ctx context.Context, entry model.AuditEntry) error {
	if err := s.st.AppendAudit(ctx, entry); err != nil {
		return eris.Wrap(err, "audit: persist entry")
	}
	return nil
}

// ZapSink mirrors entries into the structured log. It never fails.
type ZapSink struct{}

func (ZapSink) Append(_ context.Context, entry model.AuditEntry) error {
	zap.L().Info("audit",
		zap.String("actor", entry.Actor),
		zap.String("action", entry.Action),
		zap.String("object_type", entry.ObjectType),
		zap.String("object_id", entry.ObjectID),
		zap.Any("before", entry.Before),
		zap.Any("after", entry.After),
		zap.Time("at", entry.At),
	)
	return nil
}

// Multi appends to every sink and returns the first error, after attempting
// all of them.
type Multi []Sink

func (m Multi) Append(ctx context.Context, entry model.AuditEntry) error {
	var first error
	for _, s := range m {
		if err := s.Append(ctx, entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}
