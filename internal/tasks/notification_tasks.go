package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"charity_ledger/internal/models"
	"charity_ledger/internal/services"
)

const notificationRetryDelay = 5 * time.Minute

// NotificationRecipient is one addressee of a ledger notification. Guests have no user id and
// are always reached by email.
type NotificationRecipient struct {
	UserID *uint  `json:"user_id,omitempty"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone,omitempty"`
}

func (r NotificationRecipient) label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Email
}

// SendNotificationArgs defines the arguments for a notification task
type SendNotificationArgs struct {
	Event        string                  `json:"event"`
	EntityType   string                  `json:"entity_type"`
	EntityID     uint                    `json:"entity_id"`
	Recipients   []NotificationRecipient `json:"recipients"`
	Subject      string                  `json:"subject"`
	Template     string                  `json:"template"`
	Payload      map[string]interface{}  `json:"payload"`
	AttemptCount int                     `json:"attempt_count"`
}

type notificationTemplate struct {
	Subject string
	Body    string
}

var defaultTemplates = map[services.EventType]notificationTemplate{
	services.EventDonationCompleted: {
		Subject: "Thank you for your donation",
		Body:    "Hi $name,\n\nYour donation of $amount to $target has been confirmed.\nReceipt number: $receipt_number\n\nThank you for your support.",
	},
	services.EventDonationRejected: {
		Subject: "Your donation could not be confirmed",
		Body:    "Hi $name,\n\nYour donation of $amount to $target was not confirmed.\nReason: $reason",
	},
	services.EventCampaignGoalReached: {
		Subject: "Campaign goal reached",
		Body:    "Hi $name,\n\nYour campaign $title reached its goal of $target_amount (raised $current_amount).",
	},
	services.EventRefundRequested: {
		Subject: "New refund request",
		Body:    "Hi $name,\n\nA donor requested a refund of $refund_amount for a donation to $target. Please review it.",
	},
	services.EventRefundApproved: {
		Subject: "Your refund was approved",
		Body:    "Hi $name,\n\nYour refund request for $refund_amount was approved.\n$response",
	},
	services.EventRefundDenied: {
		Subject: "Your refund was denied",
		Body:    "Hi $name,\n\nYour refund request for $refund_amount was denied.\n$response",
	},
	services.EventRecurringSweepFailed: {
		Subject: "Recurring donation sweep failed",
		Body:    "Hi $name,\n\nThe recurring donation sweep could not process $failures occurrence(s):\n$error",
	},
}

// SendNotificationTaskDef encapsulates the notification task logic
type SendNotificationTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *SendNotificationTaskDef) TaskID() string {
	return "send_notification"
}

// CreateTask builds a ScheduledTask record for this task
func (t *SendNotificationTaskDef) CreateTask(args SendNotificationArgs, due time.Time) (*models.ScheduledTask, error) {
	return BuildScheduledTask(t.TaskID(), args, due, nil, models.ScheduledTaskTypeOneTime, 3)
}

// Handler delivers the notification to every recipient by their preferred channel. Failed
// recipients are retried in a new task until MaxAttempt is reached.
func (t *SendNotificationTaskDef) Handler(deps Deps) TaskHandler {
	return func(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
		var args SendNotificationArgs
		if err := decodeArgs(task, &args); err != nil {
			return nil, err
		}
		if args.Template == "" {
			return nil, fmt.Errorf("template is missing")
		}

		successCount, skippedCount := 0, 0
		var failures []string
		var failedRecipients []NotificationRecipient

		for _, r := range args.Recipients {
			channel, pref, err := t.channelFor(deps.DB, r)
			if err != nil {
				log.Printf("Error fetching preference for %s: %v", r.label(), err)
				failures = append(failures, fmt.Sprintf("%s: db error", r.label()))
				failedRecipients = append(failedRecipients, r)
				continue
			}

			msg := replacePlaceholders(args.Template, r, args.Payload)

			var sendErr error
			switch channel {
			case models.NotificationChannelEmail:
				sendErr = sendEmailNotif(ctx, deps.Email, r, args.Subject, msg)
			case models.NotificationChannelWhatsapp:
				sendErr = sendWhatsappNotif(ctx, deps.Whatsapp, r, pref, msg)
			case models.NotificationChannelNone:
				log.Printf("Notification disabled (none) for %s", r.label())
				skippedCount++
				continue
			default:
				log.Printf("Unsupported notification channel %s for %s", channel, r.label())
				skippedCount++
				continue
			}

			if sendErr != nil {
				log.Printf("Failed to send %s notification to %s via %s: %v", args.Event, r.label(), channel, sendErr)
				failures = append(failures, fmt.Sprintf("%s: %v", r.label(), sendErr))
				failedRecipients = append(failedRecipients, r)
				continue
			}
			successCount++
		}

		result := map[string]interface{}{
			"event":   args.Event,
			"total":   len(args.Recipients),
			"success": successCount,
			"skipped": skippedCount,
			"failure": len(failures),
		}
		if len(failures) == 0 {
			return result, nil
		}
		result["errors"] = failures

		if args.AttemptCount+1 >= task.MaxAttempt {
			log.Printf("Max attempts (%d) reached for %d failed recipients.", task.MaxAttempt, len(failedRecipients))
			return result, fmt.Errorf("max attempts reached, failed to deliver to %d recipients", len(failedRecipients))
		}

		retryArgs := args
		retryArgs.Recipients = failedRecipients
		retryArgs.AttemptCount = args.AttemptCount + 1

		retry, err := BuildScheduledTask(t.TaskID(), retryArgs, deps.now().Add(notificationRetryDelay), nil, models.ScheduledTaskTypeOneTime, task.MaxAttempt)
		if err != nil {
			return result, fmt.Errorf("failed to build retry task: %w", err)
		}
		if err := deps.DB.WithContext(ctx).Create(retry).Error; err != nil {
			return result, fmt.Errorf("failed to create retry task: %w", err)
		}
		log.Printf("Partial failure: %d recipients failed. Rescheduled as task %d (attempt %d)", len(failedRecipients), retry.ID, retryArgs.AttemptCount+1)
		result["retry_task_id"] = retry.ID
		return result, nil
	}
}

// channelFor resolves the recipient's preference; users without one and guests get email
func (t *SendNotificationTaskDef) channelFor(db *gorm.DB, r NotificationRecipient) (models.NotificationChannel, models.UserNotifPreference, error) {
	if r.UserID == nil {
		return models.NotificationChannelEmail, models.DefaultNotifPreference(0), nil
	}
	var pref models.UserNotifPreference
	err := db.Where("user_id = ?", *r.UserID).First(&pref).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NotificationChannelEmail, models.DefaultNotifPreference(*r.UserID), nil
		}
		return "", pref, err
	}
	return pref.Channel, pref, nil
}

// SendNotificationTask is the singleton instance of SendNotificationTaskDef
var SendNotificationTask = &SendNotificationTaskDef{}

func sendWhatsappNotif(ctx context.Context, sender WhatsappSender, r NotificationRecipient, pref models.UserNotifPreference, msg string) error {
	if sender == nil {
		return fmt.Errorf("whatsapp channel not configured")
	}

	var chatID string
	if pref.UsesWhatsappGroup() {
		chatID = services.GroupChatID(pref.WhatsappGroupID)
		if chatID == "" {
			return fmt.Errorf("group ID is empty")
		}
	} else {
		if r.Phone == "" {
			return fmt.Errorf("phone number is empty")
		}
		chatID = r.Phone
	}

	return sender.SendMessage(ctx, chatID, msg)
}

func sendEmailNotif(ctx context.Context, sender EmailSender, r NotificationRecipient, subject, msg string) error {
	if sender == nil {
		return fmt.Errorf("email channel not configured")
	}
	if r.Email == "" {
		return fmt.Errorf("email address is empty")
	}
	if subject == "" {
		subject = "Notification"
	}
	return sender.SendEmail(ctx, []string{r.Email}, subject, msg)
}

// replacePlaceholders fills $name and $email from the recipient, then $<key> for every payload
// key. Longer keys go first so $amount never clobbers $amount_refunded.
func replacePlaceholders(template string, r NotificationRecipient, payload map[string]interface{}) string {
	res := strings.ReplaceAll(template, "$name", r.label())
	res = strings.ReplaceAll(res, "$email", r.Email)

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		res = strings.ReplaceAll(res, "$"+k, fmt.Sprint(payload[k]))
	}
	return res
}
