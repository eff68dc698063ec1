package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"charity_ledger/internal/models"
)

// ReferenceGuard rejects reuse of an external payment reference across all donations,
// regardless of charity or campaign.
type ReferenceGuard struct {
	db *gorm.DB
}

func NewReferenceGuard(db *gorm.DB) *ReferenceGuard {
	return &ReferenceGuard{db: db}
}

// NormalizeReference trims surrounding whitespace; an empty result means no reference.
func NormalizeReference(ref *string) *string {
	if ref == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*ref)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// Check returns a DuplicateReferenceError when the reference is already used
func (g *ReferenceGuard) Check(ctx context.Context, reference string) error {
	return g.check(g.db.WithContext(ctx), reference)
}

func (g *ReferenceGuard) check(tx *gorm.DB, reference string) error {
	var prior models.Donation
	err := tx.Preload("Campaign").Preload("Charity").
		Where("reference_number = ?", reference).
		Order("id").
		First(&prior).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("failed to look up reference number: %w", err)
	}

	return &DuplicateReferenceError{
		ReferenceNumber: reference,
		PriorDonationID: prior.ID,
		Target:          prior.TargetName(),
		DonatedAt:       prior.DonatedAt,
		Amount:          prior.Amount,
		Status:          prior.Status,
	}
}
