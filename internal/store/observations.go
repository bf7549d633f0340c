package store

import (
	"context"

	"github.com/Davronbekjonbek/planshet-back/internal/models"

	"github.com/lib/pq"
)

const observationColumns = `id, product_id, stall_id, object_id, stall_product_id, employee_id,
	period_date_id, price, unit_quantity, unit_price, status, is_checked, is_active,
	is_alternative, alternative_for_id, created_during_rollover, created_at`

// UpdateObservationFlags changes the review flags of a ledger row. Nil leaves a flag as is.
func (s *Store) UpdateObservationFlags(ctx context.Context, id int64, checked, active *bool) (*models.PriceObservation, error) {
	query := `
		UPDATE price_observations
		SET is_checked = COALESCE($2, is_checked), is_active = COALESCE($3, is_active)
		WHERE id = $1
		RETURNING ` + observationColumns

	var obs models.PriceObservation
	if err := s.db.GetContext(ctx, &obs, query, id, checked, active); err != nil {
		return nil, notFound(err, "observation %d", id)
	}
	return &obs, nil
}

// ListCarryCandidates returns observations from any date of the period whose
// status is one of statuses and whose stall product is weekly and not removed,
// oldest first.
func (s *Store) ListCarryCandidates(ctx context.Context, periodID int64, statuses []models.Status) ([]models.CarryCandidate, error) {
	query := `
		SELECT o.id AS observation_id, o.product_id, o.stall_id, o.object_id, o.employee_id,
			sp.id AS stall_product_id, o.status, sp.quantity, o.created_at
		FROM price_observations o
		JOIN period_dates pd ON pd.id = o.period_date_id
		JOIN stall_products sp ON sp.product_id = o.product_id AND sp.stall_id = o.stall_id
		WHERE pd.period_id = $1
			AND o.status = ANY($2)
			AND sp.is_weekly
			AND NOT sp.is_removed
		ORDER BY o.created_at, o.id`

	var candidates []models.CarryCandidate
	err := s.db.SelectContext(ctx, &candidates, query, periodID, pq.Array(models.StatusStrings(statuses)))
	return candidates, err
}
