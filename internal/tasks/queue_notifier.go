package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"

	"charity_ledger/internal/models"
	"charity_ledger/internal/services"
)

// QueueNotifier turns ledger events into send_notification tasks picked up by the worker.
// It only inserts a row; delivery never runs on the caller's goroutine.
type QueueNotifier struct {
	deps Deps
}

func NewQueueNotifier(deps Deps) *QueueNotifier {
	return &QueueNotifier{deps: deps}
}

var _ services.Notifier = (*QueueNotifier)(nil)

// Notify resolves who should hear about the event and queues one delivery task for them
func (n *QueueNotifier) Notify(ctx context.Context, ev services.Event) error {
	db := n.deps.DB.WithContext(ctx)

	payload := make(map[string]interface{}, len(ev.Payload)+2)
	for k, v := range ev.Payload {
		payload[k] = v
	}

	recipients, err := n.resolve(db, ev, payload)
	if err != nil {
		return fmt.Errorf("failed to resolve recipients for %s: %w", ev.Type, err)
	}
	if len(recipients) == 0 {
		log.Printf("No recipients for %s notification on %s %d", ev.Type, ev.EntityType, ev.EntityID)
		return nil
	}

	tmpl, ok := defaultTemplates[ev.Type]
	if !ok {
		return fmt.Errorf("no notification template for %s", ev.Type)
	}

	args := SendNotificationArgs{
		Event:      string(ev.Type),
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		Recipients: recipients,
		Subject:    tmpl.Subject,
		Template:   tmpl.Body,
		Payload:    payload,
	}
	task, err := SendNotificationTask.CreateTask(args, n.deps.now())
	if err != nil {
		return err
	}
	if err := db.Create(task).Error; err != nil {
		return fmt.Errorf("failed to queue notification task: %w", err)
	}
	return nil
}

func (n *QueueNotifier) resolve(db *gorm.DB, ev services.Event, payload map[string]interface{}) ([]NotificationRecipient, error) {
	switch ev.Type {
	case services.EventDonationCompleted, services.EventDonationRejected:
		var d models.Donation
		if err := db.Preload("Donor").Preload("Charity").Preload("Campaign").First(&d, ev.EntityID).Error; err != nil {
			return nil, err
		}
		payload["target"] = d.TargetName()
		if _, ok := payload["reason"]; !ok {
			payload["reason"] = "-"
		}
		return donorRecipients(&d), nil

	case services.EventCampaignGoalReached:
		var c models.Campaign
		if err := db.Preload("Charity.Owner").First(&c, ev.EntityID).Error; err != nil {
			return nil, err
		}
		return ownerRecipients(c.Charity), nil

	case services.EventRefundRequested, services.EventRefundApproved, services.EventRefundDenied:
		var r models.RefundRequest
		if err := db.Preload("Donation.Charity.Owner").Preload("Donation.Campaign").Preload("Donation.Donor").
			First(&r, ev.EntityID).Error; err != nil {
			return nil, err
		}
		payload["target"] = r.Donation.TargetName()
		if _, ok := payload["response"]; !ok {
			payload["response"] = ""
		}
		if ev.Type == services.EventRefundRequested {
			return ownerRecipients(r.Donation.Charity), nil
		}
		return requesterRecipients(db, &r)

	case services.EventRecurringSweepFailed:
		var admins []models.User
		if err := db.Where("user_type = ?", models.UserTypeAdmin).Order("id").Find(&admins).Error; err != nil {
			return nil, err
		}
		out := make([]NotificationRecipient, 0, len(admins))
		for _, u := range admins {
			out = append(out, userRecipient(u))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown event type %s", ev.Type)
}

func userRecipient(u models.User) NotificationRecipient {
	id := u.ID
	return NotificationRecipient{UserID: &id, Name: u.Name, Email: u.Email, Phone: u.Phone}
}

func donorRecipients(d *models.Donation) []NotificationRecipient {
	if d.Donor != nil && d.Donor.ID != 0 {
		r := userRecipient(*d.Donor)
		if r.Name == "" {
			r.Name = d.DonorName
		}
		return []NotificationRecipient{r}
	}
	if d.DonorEmail == "" {
		return nil
	}
	return []NotificationRecipient{{Name: d.DonorName, Email: d.DonorEmail}}
}

func ownerRecipients(c models.Charity) []NotificationRecipient {
	if c.Owner.ID == 0 {
		return nil
	}
	return []NotificationRecipient{userRecipient(c.Owner)}
}

// requesterRecipients reaches the refund requester, falling back to the donation's donor
func requesterRecipients(db *gorm.DB, r *models.RefundRequest) ([]NotificationRecipient, error) {
	if r.RequesterID != 0 {
		var u models.User
		err := db.First(&u, r.RequesterID).Error
		if err == nil {
			return []NotificationRecipient{userRecipient(u)}, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return donorRecipients(&r.Donation), nil
}
