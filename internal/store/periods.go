package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Davronbekjonbek/planshet-back/internal/models"
)

const dateLayout = "2006-01-02"

const periodDateSelect = `
	SELECT pd.id, pd.period_id, pd.date, p.cadence
	FROM period_dates pd
	JOIN periods p ON p.id = pd.period_id`

// FindCurrentPeriodDate returns the date row for day whose parent period has
// the cadence and is active. The highest id wins when several match.
func (s *Store) FindCurrentPeriodDate(ctx context.Context, cadence models.Cadence, day time.Time) (*models.PeriodDate, error) {
	var pd models.PeriodDate
	err := s.db.GetContext(ctx, &pd,
		periodDateSelect+` WHERE pd.date = $1::date AND p.cadence = $2 AND p.is_active
		ORDER BY pd.id DESC LIMIT 1`,
		day.Format(dateLayout), cadence)
	if err != nil {
		return nil, notFound(err, "%s period date for %s", cadence, day.Format(dateLayout))
	}
	return &pd, nil
}

// GetPeriodDate retrieves a period date by ID
func (s *Store) GetPeriodDate(ctx context.Context, id int64) (*models.PeriodDate, error) {
	var pd models.PeriodDate
	err := s.db.GetContext(ctx, &pd, periodDateSelect+" WHERE pd.id = $1", id)
	if err != nil {
		return nil, notFound(err, "period date %d", id)
	}
	return &pd, nil
}

// CreatePeriod creates a new period
func (s *Store) CreatePeriod(ctx context.Context, period *models.Period) error {
	query := `
		INSERT INTO periods (name, cadence, is_active)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	err := s.db.GetContext(ctx, period, query, period.Name, period.Cadence, period.IsActive)
	return mapWriteError(err)
}

// GetPeriod retrieves a period by ID
func (s *Store) GetPeriod(ctx context.Context, id int64) (*models.Period, error) {
	var period models.Period
	err := s.db.GetContext(ctx, &period,
		"SELECT id, name, cadence, is_active, created_at FROM periods WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "period %d", id)
	}
	return &period, nil
}

// CreatePeriodDate inserts a dated instance of a period
func (s *Store) CreatePeriodDate(ctx context.Context, pd *models.PeriodDate) error {
	return s.db.GetContext(ctx, &pd.ID,
		"INSERT INTO period_dates (period_id, date) VALUES ($1, $2::date) RETURNING id",
		pd.PeriodID, pd.Date.Format(dateLayout))
}

// FirstPeriodDateID returns the id of the first date created for a period.
// Later dates never change the answer.
func (s *Store) FirstPeriodDateID(ctx context.Context, periodID int64) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, "SELECT MIN(id) FROM period_dates WHERE period_id = $1 HAVING COUNT(*) > 0", periodID)
	if err != nil {
		return 0, notFound(err, "dates of period %d", periodID)
	}
	return id, nil
}

// ListPeriodDates returns the dates of a period, newest first
func (s *Store) ListPeriodDates(ctx context.Context, periodID int64) ([]models.PeriodDate, error) {
	var dates []models.PeriodDate
	err := s.db.SelectContext(ctx, &dates,
		periodDateSelect+" WHERE pd.period_id = $1 ORDER BY pd.date DESC, pd.id DESC", periodID)
	return dates, err
}

// FindPreviousPeriod returns the period of the cadence, other than exclude,
// whose latest date is strictly before the given day. Ties on that date go to
// the higher id. Returns nil when there is none.
func (s *Store) FindPreviousPeriod(ctx context.Context, cadence models.Cadence, exclude int64, before time.Time) (*models.Period, error) {
	query := `
		SELECT p.id, p.name, p.cadence, p.is_active, p.created_at
		FROM periods p
		JOIN period_dates pd ON pd.period_id = p.id
		WHERE p.cadence = $1 AND p.id <> $2
		GROUP BY p.id
		HAVING MAX(pd.date) < $3::date
		ORDER BY MAX(pd.date) DESC, p.id DESC
		LIMIT 1`

	var period models.Period
	err := s.db.GetContext(ctx, &period, query, cadence, exclude, before.Format(dateLayout))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &period, nil
}
