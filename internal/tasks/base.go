package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"charity_ledger/internal/models"
)

// BuildScheduledTask prepares a task row for insertion. args may be any JSON-encodable value;
// it is stored as a map and decoded again by the handler through decodeArgs. Recurring tasks
// must carry a parseable RRULE.
func BuildScheduledTask(taskName string, args interface{}, due time.Time, recurringInterval *string, taskType models.ScheduledTaskType, maxAttempt int) (*models.ScheduledTask, error) {
	if taskName == "" {
		return nil, fmt.Errorf("task name is required")
	}
	switch taskType {
	case models.ScheduledTaskTypeOneTime:
		recurringInterval = nil
	case models.ScheduledTaskTypeRecurring:
		if recurringInterval == nil || *recurringInterval == "" {
			return nil, fmt.Errorf("recurring task %s needs a recurring interval", taskName)
		}
		if _, err := rrule.StrToRRule(*recurringInterval); err != nil {
			return nil, fmt.Errorf("invalid recurring interval %q: %w", *recurringInterval, err)
		}
	default:
		return nil, fmt.Errorf("unknown task type %q", taskType)
	}

	mapArgs, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}

	return &models.ScheduledTask{
		TaskName:          taskName,
		Arguments:         mapArgs,
		Due:               due.UTC(),
		RecurringInterval: recurringInterval,
		Status:            models.ScheduledTaskStatusActive,
		TaskType:          taskType,
		MaxAttempt:        max(maxAttempt, 1),
	}, nil
}

func encodeArgs(args interface{}) (map[string]interface{}, error) {
	if args == nil {
		return map[string]interface{}{}, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal args: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("task args must encode to a JSON object: %w", err)
	}
	return out, nil
}

// decodeArgs converts the stored argument map back into a typed struct
func decodeArgs(task models.ScheduledTask, out interface{}) error {
	raw, err := json.Marshal(task.Arguments)
	if err != nil {
		return fmt.Errorf("failed to marshal args: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode args for %s: %w", task.TaskName, err)
	}
	return nil
}
