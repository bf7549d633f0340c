package store

import (
	"context"
	"fmt"

	"github.com/Davronbekjonbek/planshet-back/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Tx is the set of writes that must share one database transaction.
type Tx interface {
	// EnsureStallProduct returns the stall product for (product, stall),
	// creating it when missing, and locks the row until commit.
	EnsureStallProduct(ctx context.Context, productID, stallID int64, isWeekly bool) (*models.StallProduct, error)
	// InsertObservation inserts obs and fills its generated columns.
	// A second observation for the same (product, stall, period date) yields ErrDuplicate.
	InsertObservation(ctx context.Context, obs *models.PriceObservation) error
	// SaveStallProductPrices persists the cached last/previous prices.
	SaveStallProductPrices(ctx context.Context, sp *models.StallProduct) error
	// InsertObservationsIgnoringConflicts bulk inserts observations, silently
	// skipping rows that already exist, and returns the stall product ids of the
	// rows actually written.
	InsertObservationsIgnoringConflicts(ctx context.Context, obs []models.PriceObservation) ([]int64, error)
	// ShiftStallProductPrices sets previous := last, last := 0 for the given ids.
	ShiftStallProductPrices(ctx context.Context, stallProductIDs []int64) error
}

type txStore struct {
	tx *sqlx.Tx
}

const stallProductColumns = `id, product_id, stall_id, last_price, previous_price, quantity,
	is_active, is_removed, is_weekly, updated_at`

func (t *txStore) EnsureStallProduct(ctx context.Context, productID, stallID int64, isWeekly bool) (*models.StallProduct, error) {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stall_products (product_id, stall_id, is_weekly)
		VALUES ($1, $2, $3)
		ON CONFLICT (product_id, stall_id) DO NOTHING`,
		productID, stallID, isWeekly)
	if err != nil {
		return nil, fmt.Errorf("failed to create stall product: %w", err)
	}

	var sp models.StallProduct
	err = t.tx.GetContext(ctx, &sp,
		"SELECT "+stallProductColumns+" FROM stall_products WHERE product_id = $1 AND stall_id = $2 FOR UPDATE",
		productID, stallID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock stall product: %w", err)
	}
	return &sp, nil
}

func (t *txStore) InsertObservation(ctx context.Context, obs *models.PriceObservation) error {
	query := `
		INSERT INTO price_observations (
			product_id, stall_id, object_id, stall_product_id, employee_id, period_date_id,
			price, unit_quantity, unit_price, status, is_alternative, alternative_for_id,
			created_during_rollover)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, is_checked, is_active, created_at`

	err := t.tx.GetContext(ctx, obs, query,
		obs.ProductID, obs.StallID, obs.ObjectID, obs.StallProductID, obs.EmployeeID, obs.PeriodDateID,
		obs.Price, obs.UnitQuantity, obs.UnitPrice, obs.Status, obs.IsAlternative, obs.AlternativeForID,
		obs.CreatedDuringRollover)
	return mapWriteError(err)
}

func (t *txStore) SaveStallProductPrices(ctx context.Context, sp *models.StallProduct) error {
	return t.tx.GetContext(ctx, &sp.UpdatedAt, `
		UPDATE stall_products
		SET last_price = $1, previous_price = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING updated_at`,
		sp.LastPrice, sp.PreviousPrice, sp.ID)
}

func (t *txStore) InsertObservationsIgnoringConflicts(ctx context.Context, obs []models.PriceObservation) ([]int64, error) {
	if len(obs) == 0 {
		return nil, nil
	}

	n := len(obs)
	var (
		productIDs      = make([]int64, n)
		stallIDs        = make([]int64, n)
		objectIDs       = make([]int64, n)
		stallProductIDs = make([]int64, n)
		employeeIDs     = make([]int64, n)
		periodDateIDs   = make([]int64, n)
		prices          = make([]string, n)
		quantities      = make([]string, n)
		unitPrices      = make([]string, n)
		statuses        = make([]string, n)
		rollover        = make([]bool, n)
	)
	for i, o := range obs {
		productIDs[i] = o.ProductID
		stallIDs[i] = o.StallID
		objectIDs[i] = o.ObjectID
		stallProductIDs[i] = o.StallProductID
		employeeIDs[i] = o.EmployeeID
		periodDateIDs[i] = o.PeriodDateID
		prices[i] = o.Price.String()
		quantities[i] = o.UnitQuantity.String()
		unitPrices[i] = o.UnitPrice.String()
		statuses[i] = string(o.Status)
		rollover[i] = o.CreatedDuringRollover
	}

	query := `
		INSERT INTO price_observations (
			product_id, stall_id, object_id, stall_product_id, employee_id, period_date_id,
			price, unit_quantity, unit_price, status, created_during_rollover)
		SELECT * FROM unnest(
			$1::bigint[], $2::bigint[], $3::bigint[], $4::bigint[], $5::bigint[], $6::bigint[],
			$7::numeric[], $8::numeric[], $9::numeric[], $10::text[], $11::boolean[])
		ON CONFLICT (product_id, stall_id, period_date_id) DO NOTHING
		RETURNING stall_product_id`

	var inserted []int64
	err := t.tx.SelectContext(ctx, &inserted, query,
		pq.Array(productIDs), pq.Array(stallIDs), pq.Array(objectIDs), pq.Array(stallProductIDs),
		pq.Array(employeeIDs), pq.Array(periodDateIDs), pq.Array(prices), pq.Array(quantities),
		pq.Array(unitPrices), pq.Array(statuses), pq.Array(rollover))
	if err != nil {
		return nil, fmt.Errorf("failed to insert observations: %w", mapWriteError(err))
	}
	return inserted, nil
}

func (t *txStore) ShiftStallProductPrices(ctx context.Context, stallProductIDs []int64) error {
	if len(stallProductIDs) == 0 {
		return nil
	}
	_, err := t.tx.ExecContext(ctx, `
		UPDATE stall_products
		SET previous_price = last_price, last_price = 0, updated_at = NOW()
		WHERE id = ANY($1)`,
		pq.Array(stallProductIDs))
	return err
}
