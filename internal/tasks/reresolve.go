package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mikestefanello/backlite"
	"github.com/mrlokans/marginalia/internal/canonical"
)

const QueueReResolve = "reresolve_provisional"

// ProvisionalResolver re-runs catalog resolution for provisional canonical books.
type ProvisionalResolver interface {
	ReResolveProvisional(ctx context.Context) (*canonical.ReResolveResult, error)
}

// ReResolveRecorder records the outcome of a re-resolution run.
type ReResolveRecorder interface {
	LogReResolve(total, upgraded, failed int, err error)
}

// ReResolveProvisionalTask retries catalog lookups for every provisional
// canonical book, upgrading those that now match.
type ReResolveProvisionalTask struct {
	Trigger string `json:"trigger"` // "scheduler" or "api"
}

// Config returns the queue configuration for re-resolution tasks.
func (t ReResolveProvisionalTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        QueueReResolve,
		MaxAttempts: 1,
		Timeout:     60 * time.Minute,
		Retention: &backlite.Retention{
			Duration: 7 * 24 * time.Hour,
			Data:     &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// ReResolveProvisionalProcessor creates a processor function for ReResolveProvisionalTask.
// recorder may be nil.
func ReResolveProvisionalProcessor(resolver ProvisionalResolver, recorder ReResolveRecorder) backlite.QueueProcessor[ReResolveProvisionalTask] {
	return func(ctx context.Context, task ReResolveProvisionalTask) error {
		if resolver == nil {
			return errors.New("canonical resolver not configured")
		}

		log.Printf("[TASK] Re-resolving provisional canonical books (trigger: %s)", task.Trigger)

		result, err := resolver.ReResolveProvisional(ctx)
		if recorder != nil {
			var total, upgraded, failed int
			if result != nil {
				total, upgraded, failed = result.Total, result.Upgraded, result.Failed
			}
			recorder.LogReResolve(total, upgraded, failed, err)
		}
		if err != nil {
			return fmt.Errorf("re-resolve provisional books: %w", err)
		}

		log.Printf("[TASK] Re-resolution complete: %d total, %d upgraded, %d pending, %d failed",
			result.Total, result.Upgraded, result.Pending, result.Failed)
		return nil
	}
}

// NewReResolveProvisionalQueue creates a backlite queue for re-resolution tasks.
func NewReResolveProvisionalQueue(resolver ProvisionalResolver, recorder ReResolveRecorder) backlite.Queue {
	return backlite.NewQueue(ReResolveProvisionalProcessor(resolver, recorder))
}
