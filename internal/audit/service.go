package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mrlokans/marginalia/internal/database/audit"
	"github.com/mrlokans/marginalia/internal/entities"
)

const (
	entityImportSession = "import_session"
	entityReviewItem    = "review_item"
	entityLinkAudit     = "canonical_link_audit"
)

// Service provides high-level audit logging functionality.
type Service struct {
	repo    *audit.Repository
	pending sync.WaitGroup
}

// NewService creates a new audit service.
func NewService(repo *audit.Repository) *Service {
	return &Service{repo: repo}
}

// Log records a generic audit event.
func (s *Service) Log(ctx context.Context, event *entities.AuditEvent) error {
	return s.repo.LogEvent(ctx, event)
}

// LogAsync records an audit event in the background (non-blocking).
func (s *Service) LogAsync(event *entities.AuditEvent) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.repo.LogEvent(context.Background(), event); err != nil {
			log.Printf("Failed to log audit event: %v", err)
		}
	}()
}

// Wait blocks until every event handed to LogAsync has been written.
func (s *Service) Wait() {
	s.pending.Wait()
}

// LogImport records the outcome of an import session.
func (s *Service) LogImport(sessionID uint, source, description string, counts map[string]int, err error) {
	event := &entities.AuditEvent{
		EventType:   entities.AuditEventImport,
		Action:      source + "_import",
		Description: truncate(description, 500),
		EntityType:  entityImportSession,
		EntityID:    &sessionID,
		Status:      entities.AuditStatusSuccess,
	}

	if mdBytes, e := json.Marshal(counts); e == nil {
		event.Metadata = string(mdBytes)
	}

	s.logWithError(event, err)
}

// LogRollback records a session rollback.
func (s *Service) LogRollback(sessionID uint, notesDeleted, notesRestored int, err error) {
	event := &entities.AuditEvent{
		EventType:   entities.AuditEventRollback,
		Action:      "session_rollback",
		Description: fmt.Sprintf("Rolled back import session %d", sessionID),
		EntityType:  entityImportSession,
		EntityID:    &sessionID,
		Status:      entities.AuditStatusSuccess,
	}

	metadata := map[string]any{
		"notes_deleted":  notesDeleted,
		"notes_restored": notesRestored,
	}
	if mdBytes, e := json.Marshal(metadata); e == nil {
		event.Metadata = string(mdBytes)
	}

	s.logWithError(event, err)
}

// LogConfirm records a user confirmation of a proposed catalog match.
func (s *Service) LogConfirm(auditID uint, canonicalBookID string, err error) {
	event := &entities.AuditEvent{
		EventType:   entities.AuditEventConfirm,
		Action:      "canonical_confirm",
		Description: "Confirmed catalog match for canonical book " + canonicalBookID,
		EntityType:  entityLinkAudit,
		EntityID:    &auditID,
		Status:      entities.AuditStatusSuccess,
	}

	s.logWithError(event, err)
}

// LogReviewResolve records the resolution of a manual review item.
func (s *Service) LogReviewResolve(reviewID uint, resolution entities.ReviewResolution, err error) {
	event := &entities.AuditEvent{
		EventType:   entities.AuditEventReviewResolve,
		Action:      "review_" + string(resolution),
		Description: fmt.Sprintf("Resolved review item %d with %s", reviewID, resolution),
		EntityType:  entityReviewItem,
		EntityID:    &reviewID,
		Status:      entities.AuditStatusSuccess,
	}

	s.logWithError(event, err)
}

// LogReResolve records a bulk re-resolution of provisional identities.
func (s *Service) LogReResolve(total, upgraded, failed int, err error) {
	event := &entities.AuditEvent{
		EventType:   entities.AuditEventReResolve,
		Action:      "reresolve_provisional",
		Description: fmt.Sprintf("Re-resolved %d provisional books, %d upgraded", total, upgraded),
		EntityType:  "canonical_book",
		Status:      entities.AuditStatusSuccess,
	}

	metadata := map[string]any{
		"total":    total,
		"upgraded": upgraded,
		"failed":   failed,
	}
	if mdBytes, e := json.Marshal(metadata); e == nil {
		event.Metadata = string(mdBytes)
	}

	s.logWithError(event, err)
}

func (s *Service) logWithError(event *entities.AuditEvent, err error) {
	if err != nil {
		event.Status = entities.AuditStatusFailed
		event.ErrorMsg = truncate(err.Error(), 500)
	}
	s.LogAsync(event)
}

func (s *Service) GetEvents(ctx context.Context, limit, offset int) ([]entities.AuditEvent, int64, error) {
	return s.repo.Find(ctx, audit.Filter{Limit: limit, Offset: offset})
}

func (s *Service) GetEventsByType(ctx context.Context, eventType entities.AuditEventType, limit, offset int) ([]entities.AuditEvent, int64, error) {
	return s.repo.Find(ctx, audit.Filter{EventType: eventType, Limit: limit, Offset: offset})
}

// GetSessionEvents returns every event recorded against one import session.
func (s *Service) GetSessionEvents(ctx context.Context, sessionID uint) ([]entities.AuditEvent, error) {
	events, _, err := s.repo.Find(ctx, audit.Filter{
		EntityType: entityImportSession,
		EntityID:   sessionID,
		Limit:      -1,
	})
	return events, err
}

// DeleteOldEvents removes events older than retention.
func (s *Service) DeleteOldEvents(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.DeleteBefore(ctx, time.Now().Add(-retention))
}

// truncate shortens a string to max length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
