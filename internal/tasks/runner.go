package tasks

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"charity_ledger/internal/models"
)

const staleRunningAfter = time.Hour

// Runner executes due scheduled tasks. Each task is claimed with a conditional
// active->running update, so several workers can share one table.
type Runner struct {
	db       *gorm.DB
	registry *Registry
	now      func() time.Time
}

func NewRunner(db *gorm.DB, registry *Registry) *Runner {
	return &Runner{db: db, registry: registry, now: time.Now}
}

// SetClock replaces the time source
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// RunDue processes every active task whose due time has passed and returns how many this
// runner executed.
func (r *Runner) RunDue(ctx context.Context) (int, error) {
	now := r.now().UTC()

	if err := r.recoverStale(ctx, now); err != nil {
		log.Printf("Failed to recover stale tasks: %v", err)
	}

	var pendingTasks []models.ScheduledTask
	if err := r.db.WithContext(ctx).
		Where("status = ? AND due <= ?", models.ScheduledTaskStatusActive, now).
		Order("due, id").
		Find(&pendingTasks).Error; err != nil {
		return 0, fmt.Errorf("failed to fetch pending tasks: %w", err)
	}

	if len(pendingTasks) == 0 {
		log.Println("No pending tasks found.")
		return 0, nil
	}
	log.Printf("Found %d pending tasks.", len(pendingTasks))

	executed := 0
	for _, task := range pendingTasks {
		if ctx.Err() != nil {
			return executed, ctx.Err()
		}

		claimed, err := r.claim(ctx, task.ID)
		if err != nil {
			log.Printf("Failed to claim task %d: %v", task.ID, err)
			continue
		}
		if !claimed {
			continue
		}

		r.execute(ctx, task)
		executed++
	}
	return executed, nil
}

// recoverStale puts back tasks left running by a worker that died mid-run
func (r *Runner) recoverStale(ctx context.Context, now time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.ScheduledTask{}).
		Where("status = ? AND (claimed_at IS NULL OR claimed_at < ?)", models.ScheduledTaskStatusRunning, now.Add(-staleRunningAfter)).
		Updates(map[string]interface{}{"status": models.ScheduledTaskStatusActive, "claimed_at": nil})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		log.Printf("Recovered %d task(s) stuck in running", res.RowsAffected)
	}
	return nil
}

func (r *Runner) claim(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.ScheduledTask{}).
		Where("id = ? AND status = ?", id, models.ScheduledTaskStatusActive).
		Updates(map[string]interface{}{"status": models.ScheduledTaskStatusRunning, "claimed_at": r.now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// execute runs the handler once, records history and decides the task's next status.
// Recurring tasks are rescheduled even after a failed run so one bad run never stops them.
func (r *Runner) execute(ctx context.Context, task models.ScheduledTask) {
	log.Printf("Processing task: %s (ID: %d)", task.TaskName, task.ID)

	startTime := r.now().UTC()
	status := models.TaskRunSuccess
	var resultData map[string]interface{}

	handler, found := r.registry.Get(task.TaskName)
	if !found {
		log.Printf("Task handler not found for: %s. Marking as failure.", task.TaskName)
		status = models.TaskRunHandlerNotFound
		resultData = map[string]interface{}{"error": "Handler not found"}
	} else {
		result, err := r.safeRun(ctx, handler, task)
		if err != nil {
			status = models.TaskRunFailure
			resultData = map[string]interface{}{"error": err.Error()}
			for k, v := range result {
				if k != "error" {
					resultData[k] = v
				}
			}
			log.Printf("Task %s failed: %v", task.TaskName, err)
		} else {
			resultData = result
			log.Printf("Task %s completed successfully.", task.TaskName)
		}
	}
	runtimeMs := int(r.now().UTC().Sub(startTime).Milliseconds())

	history := models.ScheduledTaskHistory{
		ScheduledTaskID: task.ID,
		TaskName:        task.TaskName,
		RunAt:           startTime,
		Runtime:         runtimeMs,
		Status:          status,
		AttemptNumber:   r.attemptNumber(ctx, task.ID),
		Arguments:       task.Arguments,
		Result:          resultData,
	}
	if err := r.db.WithContext(ctx).Create(&history).Error; err != nil {
		log.Printf("Failed to record history for task %d: %v", task.ID, err)
	}

	taskUpdates := map[string]interface{}{
		"last_run":   startTime,
		"claimed_at": nil,
		"last_error": "",
	}
	if status != models.TaskRunSuccess {
		taskUpdates["last_error"], _ = resultData["error"].(string)
	}
	switch {
	case !found:
		taskUpdates["status"] = models.ScheduledTaskStatusFailure
	case task.IsRecurring():
		if nextDue, ok := task.Reschedule(startTime); ok {
			taskUpdates["status"] = models.ScheduledTaskStatusActive
			taskUpdates["due"] = nextDue
		} else {
			taskUpdates["status"] = models.ScheduledTaskStatusDone
		}
	case status == models.TaskRunSuccess:
		taskUpdates["status"] = models.ScheduledTaskStatusDone
	default:
		taskUpdates["status"] = models.ScheduledTaskStatusFailure
	}

	if err := r.db.WithContext(context.WithoutCancel(ctx)).Model(&models.ScheduledTask{}).
		Where("id = ?", task.ID).Updates(taskUpdates).Error; err != nil {
		log.Printf("Failed to update task %d: %v", task.ID, err)
	}
}

func (r *Runner) safeRun(ctx context.Context, handler TaskHandler, task models.ScheduledTask) (result map[string]interface{}, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return handler(ctx, task)
}

func (r *Runner) attemptNumber(ctx context.Context, taskID uint) int {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.ScheduledTaskHistory{}).
		Where("scheduled_task_id = ?", taskID).Count(&count).Error; err != nil {
		return 1
	}
	return int(count) + 1
}

// Loop runs RunDue immediately and then on every tick until ctx is cancelled
func (r *Runner) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ticker.C:
			r.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	log.Println("Checking for pending tasks...")
	if _, err := r.RunDue(ctx); err != nil {
		log.Printf("Error processing tasks: %v", err)
	}
}
