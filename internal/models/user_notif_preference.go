package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type NotificationChannel string

const (
	NotificationChannelEmail    NotificationChannel = "email"
	NotificationChannelWhatsapp NotificationChannel = "whatsapp"
	NotificationChannelNone     NotificationChannel = "none"
)

// WhatsappTargetType picks between the user's own phone and a group chat
type WhatsappTargetType string

const (
	WhatsappTargetTypePersonal WhatsappTargetType = "personal"
	WhatsappTargetTypeGroup    WhatsappTargetType = "group"
)

// UserNotifPreference decides how ledger events reach a user (donor receipts, refund outcomes,
// goal announcements for charity managers)
type UserNotifPreference struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	UserID uint `gorm:"uniqueIndex" json:"user_id"`

	Channel NotificationChannel `gorm:"type:varchar(20);default:'email'" json:"channel"`

	WhatsappTargetType WhatsappTargetType `gorm:"type:varchar(20);default:'personal'" json:"whatsapp_target_type"`
	WhatsappGroupID    string             `gorm:"type:varchar(100)" json:"whatsapp_group_id"`
}

// DefaultNotifPreference is what a user without a stored preference gets: email receipts
func DefaultNotifPreference(userID uint) UserNotifPreference {
	return UserNotifPreference{
		UserID:             userID,
		Channel:            NotificationChannelEmail,
		WhatsappTargetType: WhatsappTargetTypePersonal,
	}
}

// UsesWhatsappGroup reports whether messages go to a group chat instead of the user's phone
func (p UserNotifPreference) UsesWhatsappGroup() bool {
	return p.Channel == NotificationChannelWhatsapp && p.WhatsappTargetType == WhatsappTargetTypeGroup
}

// Normalize fills the personal target when none is given and rejects incomplete settings
func (p *UserNotifPreference) Normalize() error {
	switch p.Channel {
	case NotificationChannelEmail, NotificationChannelWhatsapp, NotificationChannelNone:
	default:
		return errors.New("Channel must be email, whatsapp or none")
	}
	if p.WhatsappTargetType == "" {
		p.WhatsappTargetType = WhatsappTargetTypePersonal
	}
	if p.WhatsappTargetType != WhatsappTargetTypePersonal && p.WhatsappTargetType != WhatsappTargetTypeGroup {
		return errors.New("WhatsApp target must be personal or group")
	}
	if p.UsesWhatsappGroup() && p.WhatsappGroupID == "" {
		return errors.New("WhatsApp group ID is required")
	}
	return nil
}
