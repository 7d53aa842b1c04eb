package entities

import "time"

type AuditEventType string

const (
	AuditEventImport        AuditEventType = "import"
	AuditEventRollback      AuditEventType = "rollback"
	AuditEventConfirm       AuditEventType = "canonical_confirm"
	AuditEventReviewResolve AuditEventType = "review_resolve"
	AuditEventReResolve     AuditEventType = "reresolve"
)

func (t AuditEventType) Valid() bool {
	switch t {
	case AuditEventImport, AuditEventRollback, AuditEventConfirm, AuditEventReviewResolve, AuditEventReResolve:
		return true
	}
	return false
}

type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusFailed  AuditStatus = "failed"
)

// AuditEvent is the operational log of user-visible actions. Catalog
// matching decisions live in CanonicalLinkAudit instead. Unlike those rows,
// audit events expire after AUDIT_RETENTION_DAYS.
type AuditEvent struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	EventType   AuditEventType `gorm:"index;size:32" json:"event_type"`
	Action      string         `gorm:"size:64" json:"action"` // kindle_import, session_rollback, review_replace...
	Description string         `gorm:"size:500" json:"description"`
	EntityType  string         `gorm:"index:idx_audit_entity;size:32" json:"entity_type"`
	EntityID    *uint          `gorm:"index:idx_audit_entity" json:"entity_id,omitempty"`
	Metadata    string         `gorm:"type:text" json:"metadata,omitempty"` // counters as JSON
	Status      AuditStatus    `gorm:"size:16" json:"status"`
	ErrorMsg    string         `gorm:"size:500" json:"error_msg,omitempty"`
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`
}

func (AuditEvent) TableName() string {
	return "audit_events"
}
