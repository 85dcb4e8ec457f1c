package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Actions recorded against the ledger. Every financially relevant mutation
// goes through one of these; plain reads are never audited.
const (
	AuditAccountCreate     = "account.create"
	AuditAccountDeactivate = "account.deactivate"
	AuditAccountRename     = "account.rename"
	AuditPaymentRecord     = "payment.record"
	AuditRefundRecord      = "refund.record"
	AuditPayrollAccrue     = "payroll.accrue"
	AuditPayrollReverse    = "payroll.reverse"
	AuditReconcileRepair   = "reconcile.repair"
)

// AuditLog is one audit_logs row: who did what to which account or posting
// group. Meta carries action-specific detail such as amounts or balances.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditLogger persists audit entries outside the orchestrator transaction;
// an audit write failure never rolls back the ledger mutation it describes.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, log.At)
	return err
}
