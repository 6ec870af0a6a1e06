package authsync

import (
	"io"

	"github.com/kshay712/cleenbeez-replit-sub000/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one emitted audit record.
type AuditEvent = audit.Event

// AuditSink receives audit events from the async dispatcher.
type AuditSink = audit.Sink

// Audit event types.
const (
	AuditReconcile            = "reconcile"
	AuditProvision            = "provision"
	AuditRegister             = "register"
	AuditRegisterRollback     = "register_rollback"
	AuditConflictRecovery     = "conflict_recovery"
	AuditVerificationConverge = "verification_converged"
	AuditOAuthInteractive     = "oauth_interactive"
	AuditOAuthRedirect        = "oauth_redirect"
	AuditLogin                = "login"
	AuditLogout               = "logout"
	AuditAdminCleanup         = "admin_cleanup"
	AuditForcedSignOut        = "forced_sign_out"
)

// NewChannelSink returns a sink that forwards events to a buffered channel.
func NewChannelSink(buffer int) *audit.ChannelSink { return audit.NewChannelSink(buffer) }

// NewJSONWriterSink returns a sink that writes one JSON object per line.
func NewJSONWriterSink(w io.Writer) *audit.JSONWriterSink { return audit.NewJSONWriterSink(w) }

// NewZapSink returns a sink that logs events through l.
func NewZapSink(l *zap.Logger) *audit.ZapSink { return audit.NewZapSink(l) }
