package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"charity_ledger/internal/models"
	"charity_ledger/internal/tasks"
)

func scheduleTaskCmd() *cobra.Command {
	var (
		argsStr    string
		dueStr     string
		taskType   string
		recurring  string
		maxAttempt int
	)

	cmd := &cobra.Command{
		Use:   "schedule-task <task-name>",
		Short: "Queue a task for the worker",
		Long: `Queue a task for the worker, e.g.

  ledgerctl schedule-task recalculate_aggregates --arguments '{"charity_id": 3}'
  ledgerctl schedule-task audit_refund_window --tasktype recurring --recurring 'FREQ=DAILY'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskName := args[0]
			if !knownTask(taskName) {
				return fmt.Errorf("unknown task %q", taskName)
			}

			var taskArgs map[string]interface{}
			if err := json.Unmarshal([]byte(argsStr), &taskArgs); err != nil {
				return fmt.Errorf("invalid JSON arguments: %w", err)
			}

			due := time.Now()
			if dueStr != "" {
				var err error
				due, err = time.Parse(time.RFC3339, dueStr)
				if err != nil {
					due, err = time.ParseInLocation("2006-01-02 15:04", dueStr, time.Local)
					if err != nil {
						return fmt.Errorf("invalid due date, use '2006-01-02 15:04' (local) or RFC3339: %w", err)
					}
				}
			}

			var recurringPtr *string
			if recurring != "" {
				recurringPtr = &recurring
			}

			task, err := tasks.BuildScheduledTask(taskName, taskArgs, due, recurringPtr, models.ScheduledTaskType(taskType), maxAttempt)
			if err != nil {
				return err
			}

			ledger, err := openLedger()
			if err != nil {
				return err
			}
			defer ledger.Close()

			if err := ledger.DB.WithContext(cmd.Context()).Create(task).Error; err != nil {
				return fmt.Errorf("failed to create task: %w", err)
			}

			fmt.Printf("Successfully created task ID: %d\n", task.ID)
			fmt.Printf("Task: %s\nDue: %s\nType: %s\n", task.TaskName, task.Due, task.TaskType)
			return nil
		},
	}

	cmd.Flags().StringVar(&argsStr, "arguments", "{}", "JSON arguments for the task")
	cmd.Flags().StringVar(&dueStr, "due", "", "Due date (default now, format: 2006-01-02 15:04 or RFC3339)")
	cmd.Flags().StringVar(&taskType, "tasktype", string(models.ScheduledTaskTypeOneTime), "Task type: onetime or recurring")
	cmd.Flags().StringVar(&recurring, "recurring", "", "Recurring interval rule (RFC 5545 RRULE)")
	cmd.Flags().IntVar(&maxAttempt, "max_attempt", 3, "Max attempts")
	return cmd
}

func knownTask(name string) bool {
	switch name {
	case tasks.SendNotificationTask.TaskID(),
		tasks.RecurringSweepTask.TaskID(),
		tasks.RecalculateAggregatesTask.TaskID(),
		tasks.AuditRefundWindowTask.TaskID():
		return true
	}
	return false
}
