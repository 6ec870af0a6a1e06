package authsync

import (
	"context"
	"time"

	"github.com/kshay712/cleenbeez-replit-sub000/internal/audit"
)

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *audit.Dispatcher {
	return audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Enabled,
		BufferSize: cfg.BufferSize,
		DropIfFull: cfg.DropIfFull,
	}, sink)
}

// emitAudit matches the flows.AuditFunc signature.
func (c *Client) emitAudit(ctx context.Context, event string, success bool, userID, externalUID string, err error, meta func() map[string]string) {
	if c == nil || c.audit == nil {
		return
	}
	e := AuditEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   event,
		UserID:      userID,
		ExternalUID: externalUID,
		TabID:       TabIDFromContext(ctx),
		Success:     success,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if meta != nil {
		e.Metadata = meta()
	}
	c.audit.Emit(ctx, e)
}

// AuditDropped returns the number of events dropped because the buffer was
// full.
func (c *Client) AuditDropped() uint64 {
	if c == nil {
		return 0
	}
	return c.audit.Dropped()
}
