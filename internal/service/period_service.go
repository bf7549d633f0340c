package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Davronbekjonbek/planshet-back/internal/models"
	"github.com/Davronbekjonbek/planshet-back/internal/store"
	"github.com/Davronbekjonbek/planshet-back/internal/util"

	"go.uber.org/zap"
)

// PeriodRepository is the persistence period administration needs
type PeriodRepository interface {
	CreatePeriod(ctx context.Context, period *models.Period) error
	GetPeriod(ctx context.Context, id int64) (*models.Period, error)
	CreatePeriodDate(ctx context.Context, pd *models.PeriodDate) error
	FirstPeriodDateID(ctx context.Context, periodID int64) (int64, error)
	ListPeriodDates(ctx context.Context, periodID int64) ([]models.PeriodDate, error)
}

// RolloverDispatcher hands a new period date to the rollover worker
type RolloverDispatcher interface {
	DispatchRollover(ctx context.Context, pd *models.PeriodDate) error
}

// PeriodInvalidator drops a cached current period date
type PeriodInvalidator interface {
	Invalidate(ctx context.Context, cadence models.Cadence, day time.Time)
}

// PeriodService administers periods and their dates
type PeriodService struct {
	repo       PeriodRepository
	dispatcher RolloverDispatcher
	clock      PeriodInvalidator
	logger     *zap.Logger
}

// NewPeriodService creates a new period service. clock may be nil.
func NewPeriodService(repo PeriodRepository, dispatcher RolloverDispatcher, clock PeriodInvalidator) *PeriodService {
	return &PeriodService{
		repo:       repo,
		dispatcher: dispatcher,
		clock:      clock,
		logger:     util.GetLogger(),
	}
}

// CreatePeriod creates a named period
func (s *PeriodService) CreatePeriod(ctx context.Context, name string, cadence models.Cadence, active bool) (_ *models.Period, err error) {
	ctx, span := util.StartSpan(ctx, "PeriodService.CreatePeriod")
	defer func() { util.EndSpan(span, err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, Invalid("name", "is required")
	}
	if _, err := models.ParseCadence(string(cadence)); err != nil {
		return nil, Invalid("cadence", err.Error())
	}

	period := &models.Period{Name: name, Cadence: cadence, IsActive: active}
	if err := s.repo.CreatePeriod(ctx, period); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, Conflict(fmt.Sprintf("period %q already exists", name))
		}
		return nil, fmt.Errorf("failed to create period: %w", err)
	}

	s.logger.Info("Period created",
		zap.Int64("period_id", period.ID),
		zap.String("name", period.Name),
		zap.String("cadence", string(period.Cadence)))

	return period, nil
}

// CreatePeriodDate adds a dated instance to a period. The first date of a
// weekly period dispatches a rollover; dispatch failures are only logged and
// the rollover can be re-requested.
func (s *PeriodService) CreatePeriodDate(ctx context.Context, periodID int64, date time.Time) (_ *models.PeriodDate, err error) {
	ctx, span := util.StartSpan(ctx, "PeriodService.CreatePeriodDate")
	defer func() { util.EndSpan(span, err) }()

	if date.IsZero() {
		return nil, Invalid("date", "is required")
	}

	period, err := s.repo.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, resolveErr(err, "period_id")
	}

	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	pd := &models.PeriodDate{PeriodID: period.ID, Date: day, Cadence: period.Cadence}
	if err := s.repo.CreatePeriodDate(ctx, pd); err != nil {
		return nil, fmt.Errorf("failed to create period date: %w", err)
	}

	s.logger.Info("Period date created",
		zap.Int64("period_date_id", pd.ID),
		zap.Int64("period_id", period.ID),
		zap.String("date", day.Format(dayLayout)))

	if s.clock != nil {
		s.clock.Invalidate(ctx, period.Cadence, day)
	}

	if period.Cadence != models.CadenceWeekly {
		return pd, nil
	}

	first, err := s.repo.FirstPeriodDateID(ctx, period.ID)
	if err != nil {
		s.logger.Error("Failed to find first period date, rollover not dispatched",
			zap.Int64("period_date_id", pd.ID),
			zap.Error(err))
		return pd, nil
	}
	if first != pd.ID {
		return pd, nil
	}

	if err := s.dispatcher.DispatchRollover(ctx, pd); err != nil {
		s.logger.Error("Failed to dispatch rollover",
			zap.Int64("period_date_id", pd.ID),
			zap.Error(err))
	}
	return pd, nil
}

// ListPeriodDates returns a period's dates, newest first
func (s *PeriodService) ListPeriodDates(ctx context.Context, periodID int64) ([]models.PeriodDate, error) {
	if _, err := s.repo.GetPeriod(ctx, periodID); err != nil {
		return nil, resolveErr(err, "period_id")
	}
	dates, err := s.repo.ListPeriodDates(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("failed to list period dates: %w", err)
	}
	if dates == nil {
		dates = []models.PeriodDate{}
	}
	return dates, nil
}
