package store

import (
	"context"
	"fmt"

	"github.com/Davronbekjonbek/planshet-back/internal/models"

	"github.com/lib/pq"
)

// ListStallProducts returns the active, non-removed products of a stall with
// the observation recorded for each in periodDateID. Zero means no period.
func (s *Store) ListStallProducts(ctx context.Context, stallID, periodDateID int64) ([]models.StallProductListing, error) {
	query := `
		SELECT sp.id, sp.product_id, sp.stall_id, sp.last_price, sp.previous_price, sp.quantity,
			sp.is_active, sp.is_removed, sp.is_weekly, sp.updated_at,
			p.uuid AS product_uuid, p.name AS product_name, p.code AS product_code,
			c.name AS category_name, u.name AS unit_name, u.base_quantity AS unit_base_quantity,
			o.status AS current_status,
			COALESCE(o.created_during_rollover, FALSE) AS created_during_rollover
		FROM stall_products sp
		JOIN products p ON p.id = sp.product_id
		JOIN product_categories c ON c.id = p.category_id
		JOIN units u ON u.id = p.unit_id
		LEFT JOIN price_observations o
			ON o.product_id = sp.product_id AND o.stall_id = sp.stall_id AND o.period_date_id = $2
		WHERE sp.stall_id = $1 AND sp.is_active AND NOT sp.is_removed
		ORDER BY p.name, sp.id`

	var listings []models.StallProductListing
	err := s.db.SelectContext(ctx, &listings, query, stallID, periodDateID)
	return listings, err
}

// UpsertStallProducts assigns products to a stall. Previously removed
// assignments are restored. Returns the number of rows touched.
func (s *Store) UpsertStallProducts(ctx context.Context, stallID int64, productIDs []int64, isWeekly bool) (int64, error) {
	if len(productIDs) == 0 {
		return 0, nil
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO stall_products (product_id, stall_id, is_weekly)
		SELECT unnest($2::bigint[]), $1, $3
		ON CONFLICT (product_id, stall_id)
		DO UPDATE SET is_removed = FALSE, is_active = TRUE, updated_at = NOW()`,
		stallID, pq.Array(productIDs), isWeekly)
	if err != nil {
		return 0, fmt.Errorf("failed to assign products: %w", err)
	}
	return result.RowsAffected()
}

// RemoveStallProduct soft-removes a product from a stall
func (s *Store) RemoveStallProduct(ctx context.Context, stallID, productID int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE stall_products SET is_removed = TRUE, updated_at = NOW()
		WHERE stall_id = $1 AND product_id = $2`,
		stallID, productID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: product %d on stall %d", ErrNotFound, productID, stallID)
	}
	return nil
}
