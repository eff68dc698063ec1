package tasks

import (
	"context"
	"time"

	"gorm.io/gorm"

	"charity_ledger/internal/services"
)

// EmailSender delivers one plain-text email
type EmailSender interface {
	SendEmail(ctx context.Context, to []string, subject, body string) error
}

// WhatsappSender delivers one WhatsApp message
type WhatsappSender interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// Deps carries everything task handlers need. Nil senders disable that channel; a nil cache
// runs the sweep without a lease.
type Deps struct {
	DB         *gorm.DB
	Cache      *services.RedisCache
	Recurring  *services.RecurringService
	Aggregates *services.AggregateService
	Refunds    *services.RefundService
	Email      EmailSender
	Whatsapp   WhatsappSender
	Now        func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// DefineTasks registers all available tasks
func DefineTasks(r *Registry, deps Deps) {
	r.Register(SendNotificationTask.TaskID(), SendNotificationTask.Handler(deps))

	r.Register(RecurringSweepTask.TaskID(), RecurringSweepTask.Handler(deps))

	r.Register(RecalculateAggregatesTask.TaskID(), RecalculateAggregatesTask.Handler(deps))
	r.Register(AuditRefundWindowTask.TaskID(), AuditRefundWindowTask.Handler(deps))
}
