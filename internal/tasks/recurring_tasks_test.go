package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"charity_ledger/internal/models"
	"charity_ledger/internal/services"
)

func withCache(t *testing.T, l *ledger) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := services.NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { cache.Close() })
	l.deps.Cache = cache
	return mr
}

func TestRecurringSweepTaskProcessesDueOccurrences(t *testing.T) {
	l := newLedger(t)
	mr := withCache(t, l)

	l.donate(t, nil, "20", &services.RecurringSettings{Interval: models.RecurringIntervalWeekly})
	l.now = l.now.Add(7*24*time.Hour + time.Minute)

	task, err := RecurringSweepTask.CreateTask(l.now, "")
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	result, err := RecurringSweepTask.Handler(l.deps)(context.Background(), *task)
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if result["status"] != "success" || result["processed"] != 1 {
		t.Errorf("result = %v", result)
	}
	if mr.Exists(sweepLockKey) {
		t.Error("sweep lease not released")
	}
}

func TestRecurringSweepTaskSkipsWhenLeaseHeld(t *testing.T) {
	l := newLedger(t)
	withCache(t, l)

	l.donate(t, nil, "20", &services.RecurringSettings{Interval: models.RecurringIntervalWeekly})
	l.now = l.now.Add(8 * 24 * time.Hour)

	token, ok, err := l.deps.Cache.AcquireLock(context.Background(), sweepLockKey, time.Minute)
	if err != nil || !ok {
		t.Fatalf("AcquireLock = %v, %v", ok, err)
	}

	task, _ := RecurringSweepTask.CreateTask(l.now, "")
	result, err := RecurringSweepTask.Handler(l.deps)(context.Background(), *task)
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if result["status"] != "skipped" {
		t.Errorf("result = %v, want skipped", result)
	}

	var scheduled int64
	l.db.Model(&models.Donation{}).Where("status = ?", models.DonationStatusScheduled).Count(&scheduled)
	if scheduled != 1 {
		t.Errorf("scheduled = %d, sweep should not have run", scheduled)
	}

	if err := l.deps.Cache.ReleaseLock(context.Background(), sweepLockKey, token); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}
	result, err = RecurringSweepTask.Handler(l.deps)(context.Background(), *task)
	if err != nil || result["processed"] != 1 {
		t.Errorf("sweep after release = %v, %v", result, err)
	}
}

func TestRecurringSweepTaskReportsPartialFailure(t *testing.T) {
	l := newLedger(t)

	l.donate(t, nil, "20", &services.RecurringSettings{Interval: models.RecurringIntervalWeekly})
	bad := l.donate(t, nil, "30", &services.RecurringSettings{Interval: models.RecurringIntervalWeekly})
	if err := l.db.Model(&models.RecurringSubscription{}).Where("id = ?", *bad.SubscriptionID).
		Update("interval_type", "hourly").Error; err != nil {
		t.Fatalf("failed to corrupt subscription: %v", err)
	}
	l.now = l.now.Add(8 * 24 * time.Hour)

	task, _ := RecurringSweepTask.CreateTask(l.now, "")
	result, err := RecurringSweepTask.Handler(l.deps)(context.Background(), *task)
	if err != nil {
		t.Fatalf("partial failure failed the task: %v", err)
	}
	if result["status"] != "partial" || result["processed"] != 1 {
		t.Errorf("result = %v", result)
	}
	failed, ok := result["failed_donations"].([]uint)
	if !ok || len(failed) != 1 {
		t.Errorf("failed donations = %v", result["failed_donations"])
	}

	var alerts int64
	l.db.Model(&models.ScheduledTask{}).
		Where("task_name = ? AND arguments LIKE ?", SendNotificationTask.TaskID(), "%"+string(services.EventRecurringSweepFailed)+"%").
		Count(&alerts)
	if alerts != 1 {
		t.Error("sweep failure was not queued for admins")
	}
}

func TestEnsureRecurringTask(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	task, err := RecurringSweepTask.CreateTask(l.now, "")
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if task.RecurringInterval == nil || *task.RecurringInterval != DefaultSweepRule {
		t.Errorf("rule = %v, want %s", task.RecurringInterval, DefaultSweepRule)
	}
	if task.TaskType != models.ScheduledTaskTypeRecurring {
		t.Errorf("task type = %s", task.TaskType)
	}

	created, err := EnsureRecurringTask(ctx, l.db, task)
	if err != nil || !created {
		t.Fatalf("first ensure = %v, %v", created, err)
	}

	again, _ := RecurringSweepTask.CreateTask(l.now, "FREQ=DAILY")
	created, err = EnsureRecurringTask(ctx, l.db, again)
	if err != nil || created {
		t.Errorf("second ensure = %v, %v, want no new task", created, err)
	}

	var count int64
	l.db.Model(&models.ScheduledTask{}).Where("task_name = ?", RecurringSweepTask.TaskID()).Count(&count)
	if count != 1 {
		t.Errorf("sweep tasks = %d, want 1", count)
	}
}
