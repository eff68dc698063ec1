package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// UserType represents the type of user
type UserType string

const (
	UserTypeAdmin          UserType = "Admin"
	UserTypeCharityManager UserType = "CharityManager"
	UserTypeDonor          UserType = "Donor"
)

// User represents a user in the system
type User struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Name     string   `gorm:"type:varchar(255)" json:"name"`
	Phone    string   `gorm:"type:varchar(50)" json:"phone"`
	Email    string   `gorm:"type:varchar(255);uniqueIndex" json:"email"`
	UserType UserType `gorm:"type:varchar(20);default:'Donor'" json:"user_type"`

	// Relationships
	Donations []Donation `gorm:"foreignKey:DonorID" json:"donations,omitempty"`
}

// Actor is an already-verified identity handed to the ledger by the auth layer
type Actor struct {
	UserID uint     `json:"user_id"`
	Email  string   `json:"email"`
	Role   UserType `json:"role"`
}

// Actor returns the ledger identity of the user
func (u User) Actor() Actor {
	return Actor{UserID: u.ID, Email: u.Email, Role: u.UserType}
}

// IsAdmin reports whether the actor has platform-wide rights
func (a Actor) IsAdmin() bool {
	return a.Role == UserTypeAdmin
}

// EmailMatches compares emails case-insensitively; empty never matches.
func (a Actor) EmailMatches(email string) bool {
	if a.Email == "" || email == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(a.Email), strings.TrimSpace(email))
}
