package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"charity_ledger/internal/models"
	"charity_ledger/internal/services"
)

const (
	sweepLockKey = "lock:recurring_donation_sweep"
	sweepLockTTL = 10 * time.Minute

	// DefaultSweepRule runs the sweep at the top of every hour
	DefaultSweepRule = "FREQ=HOURLY;INTERVAL=1"
)

// RecurringSweepTaskDef completes due recurring occurrences and enqueues their successors
type RecurringSweepTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *RecurringSweepTaskDef) TaskID() string {
	return "recurring_donation_sweep"
}

// CreateTask builds the recurring ScheduledTask that drives the sweep
func (t *RecurringSweepTaskDef) CreateTask(due time.Time, rule string) (*models.ScheduledTask, error) {
	if rule == "" {
		rule = DefaultSweepRule
	}
	return BuildScheduledTask(t.TaskID(), map[string]interface{}{}, due, &rule, models.ScheduledTaskTypeRecurring, 1)
}

// Handler runs one sweep. With Redis configured a lease keeps two workers from sweeping at
// once; the per-row claim in the ledger still guarantees exactly-once either way. Per-row
// failures are reported in the result and already notified, so they do not fail the task.
func (t *RecurringSweepTaskDef) Handler(deps Deps) TaskHandler {
	return func(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
		if deps.Recurring == nil {
			return nil, fmt.Errorf("recurring service not configured")
		}

		if deps.Cache != nil {
			token, ok, err := deps.Cache.AcquireLock(ctx, sweepLockKey, sweepLockTTL)
			if err != nil {
				log.Printf("Sweep lease unavailable, continuing without it: %v", err)
			} else if !ok {
				log.Println("Recurring sweep already running elsewhere, skipping")
				return map[string]interface{}{"status": "skipped", "reason": "lease held"}, nil
			} else {
				defer func() {
					if err := deps.Cache.ReleaseLock(context.WithoutCancel(ctx), sweepLockKey, token); err != nil {
						log.Printf("Failed to release sweep lease: %v", err)
					}
				}()
			}
		}

		processed, err := deps.Recurring.RunRecurringSweep(ctx, deps.now())
		result := map[string]interface{}{
			"status":    "success",
			"processed": processed,
		}

		var sweepErr *services.SweepError
		if errors.As(err, &sweepErr) {
			failed := make([]uint, 0, len(sweepErr.Failures))
			for _, f := range sweepErr.Failures {
				failed = append(failed, f.DonationID)
			}
			result["status"] = "partial"
			result["failed_donations"] = failed
			return result, nil
		}
		if err != nil {
			return result, err
		}
		return result, nil
	}
}

// RecurringSweepTask is the singleton instance of RecurringSweepTaskDef
var RecurringSweepTask = &RecurringSweepTaskDef{}

// EnsureRecurringTask creates the named recurring task unless an active or running one exists
func EnsureRecurringTask(ctx context.Context, db *gorm.DB, task *models.ScheduledTask) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&models.ScheduledTask{}).
		Where("task_name = ? AND status IN ?", task.TaskName,
			[]models.ScheduledTaskStatus{models.ScheduledTaskStatusActive, models.ScheduledTaskStatusRunning}).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to look up %s: %w", task.TaskName, err)
	}
	if count > 0 {
		return false, nil
	}
	if err := db.WithContext(ctx).Create(task).Error; err != nil {
		return false, fmt.Errorf("failed to create %s: %w", task.TaskName, err)
	}
	log.Printf("Seeded recurring task %s (ID: %d, rule %s)", task.TaskName, task.ID, *task.RecurringInterval)
	return true, nil
}
