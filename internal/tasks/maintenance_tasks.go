package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"

	"charity_ledger/internal/models"
	"charity_ledger/internal/services"
)

// RecalculateAggregatesArgs limits a repair run to one charity; zero repairs every charity
type RecalculateAggregatesArgs struct {
	CharityID uint `json:"charity_id"`
}

// RecalculateAggregatesTaskDef is the operator repair run for campaign and charity totals
type RecalculateAggregatesTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *RecalculateAggregatesTaskDef) TaskID() string {
	return "recalculate_aggregates"
}

// Handler recomputes totals charity by charity. A ConsistencyError stops the run so an
// operator sees it; other per-charity errors are collected.
func (t *RecalculateAggregatesTaskDef) Handler(deps Deps) TaskHandler {
	return func(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
		if deps.Aggregates == nil {
			return nil, fmt.Errorf("aggregate service not configured")
		}
		var args RecalculateAggregatesArgs
		if err := decodeArgs(task, &args); err != nil {
			return nil, err
		}

		var charityIDs []uint
		if args.CharityID != 0 {
			charityIDs = []uint{args.CharityID}
		} else if err := deps.DB.WithContext(ctx).Model(&models.Charity{}).Order("id").Pluck("id", &charityIDs).Error; err != nil {
			return nil, fmt.Errorf("failed to list charities: %w", err)
		}

		var drifted, goalReached []uint
		var failures []string
		for _, id := range charityIDs {
			report, err := deps.Aggregates.RepairCharity(ctx, id, deps.now())
			if err != nil {
				if errors.Is(err, services.ErrConsistency) {
					return map[string]interface{}{"charity_id": id}, err
				}
				log.Printf("Failed to recalculate charity %d: %v", id, err)
				failures = append(failures, fmt.Sprintf("charity %d: %v", id, err))
				continue
			}
			drifted = append(drifted, report.Drifted...)
			goalReached = append(goalReached, report.GoalReached...)
			if report.CharityDrifted {
				log.Printf("Charity %d totals drifted and were repaired", id)
			}
		}

		result := map[string]interface{}{
			"charities":         len(charityIDs),
			"drifted_campaigns": drifted,
			"goal_reached":      goalReached,
		}
		if len(failures) > 0 {
			result["errors"] = failures
			return result, fmt.Errorf("recalculation failed for %d charities", len(failures))
		}
		return result, nil
	}
}

// RecalculateAggregatesTask is the singleton instance of RecalculateAggregatesTaskDef
var RecalculateAggregatesTask = &RecalculateAggregatesTaskDef{}

// AuditRefundWindowTaskDef flags donations whose refund eligibility depends on which
// timestamp is used. It reports only and never changes data.
type AuditRefundWindowTaskDef struct{}

// TaskID returns the unique identifier for this task
func (t *AuditRefundWindowTaskDef) TaskID() string {
	return "audit_refund_window"
}

func (t *AuditRefundWindowTaskDef) Handler(deps Deps) TaskHandler {
	return func(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
		if deps.Refunds == nil {
			return nil, fmt.Errorf("refund service not configured")
		}
		divergences, err := deps.Refunds.RefundWindowDivergences(ctx, deps.now())
		if err != nil {
			return nil, err
		}

		ids := make([]uint, 0, len(divergences))
		for _, d := range divergences {
			log.Printf("AUDIT: donation %d donated_at %s but created_at %s (eligible by donated_at: %t, by created_at: %t)",
				d.DonationID, d.DonatedAt.Format("2006-01-02 15:04"), d.CreatedAt.Format("2006-01-02 15:04"),
				d.EligibleByDonated, d.EligibleByCreated)
			ids = append(ids, d.DonationID)
		}
		return map[string]interface{}{
			"divergent_count":     len(divergences),
			"divergent_donations": ids,
		}, nil
	}
}

// AuditRefundWindowTask is the singleton instance of AuditRefundWindowTaskDef
var AuditRefundWindowTask = &AuditRefundWindowTaskDef{}
