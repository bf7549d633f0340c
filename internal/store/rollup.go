package store

import (
	"context"

	"github.com/Davronbekjonbek/planshet-back/internal/models"

	"github.com/lib/pq"
)

// CompletionFilter narrows the leaf rows of the completion rollup.
// Zero ids match everything.
type CompletionFilter struct {
	PeriodID   int64
	RegionID   int64
	DistrictID int64
	ObjectID   int64
	StallID    int64
	// Statuses, when non-empty, restricts entered products to these statuses.
	Statuses []models.Status
	// Excluded statuses never count as entered.
	Excluded []models.Status
}

// StallCompletions returns one row per active stall of an active object with
// the stall's assigned and entered product counts for the period. An active
// object without active stalls still yields one zero-count row with stall id
// 0 so its employee is reported.
func (s *Store) StallCompletions(ctx context.Context, f CompletionFilter) ([]models.StallCompletion, error) {
	query := `
		WITH totals AS (
			SELECT stall_id, COUNT(*) AS total
			FROM stall_products
			WHERE is_active AND NOT is_removed
			GROUP BY stall_id
		), entered AS (
			SELECT o.stall_id, COUNT(DISTINCT o.product_id) AS entered
			FROM price_observations o
			JOIN period_dates pd ON pd.id = o.period_date_id
			JOIN stall_products sp
				ON sp.product_id = o.product_id AND sp.stall_id = o.stall_id
				AND sp.is_active AND NOT sp.is_removed
			WHERE pd.period_id = $1
				AND o.is_active
				AND (cardinality($2::text[]) = 0 OR o.status = ANY($2::text[]))
				AND NOT (o.status = ANY($3::text[]))
			GROUP BY o.stall_id
		)
		SELECT COALESCE(s.id, 0) AS stall_id, COALESCE(s.name, '') AS stall_name,
			ob.id AS object_id, ob.name AS object_name,
			e.id AS employee_id, e.uuid AS employee_uuid, e.full_name AS employee_name,
			d.id AS district_id, d.name AS district_name, d.code AS district_code,
			r.id AS region_id, r.name AS region_name, r.code AS region_code,
			COALESCE(t.total, 0) AS total, COALESCE(en.entered, 0) AS entered
		FROM objects ob
		LEFT JOIN stalls s ON s.object_id = ob.id AND s.is_active
		JOIN employees e ON e.id = ob.employee_id
		JOIN districts d ON d.id = ob.district_id
		JOIN regions r ON r.id = d.region_id
		LEFT JOIN totals t ON t.stall_id = s.id
		LEFT JOIN entered en ON en.stall_id = s.id
		WHERE ob.is_active
			AND ($4::bigint = 0 OR r.id = $4)
			AND ($5::bigint = 0 OR d.id = $5)
			AND ($6::bigint = 0 OR ob.id = $6)
			AND ($7::bigint = 0 OR s.id = $7)
		ORDER BY ob.id, s.id`

	var rows []models.StallCompletion
	err := s.db.SelectContext(ctx, &rows, query,
		f.PeriodID,
		pq.Array(models.StatusStrings(f.Statuses)),
		pq.Array(models.StatusStrings(f.Excluded)),
		f.RegionID, f.DistrictID, f.ObjectID, f.StallID)
	return rows, err
}
