package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Davronbekjonbek/planshet-back/internal/models"
	"github.com/Davronbekjonbek/planshet-back/internal/store"
	"github.com/Davronbekjonbek/planshet-back/internal/util"

	"go.uber.org/zap"
)

// Reasons a rollover run did nothing
const (
	SkipNotWeekly        = "not_weekly"
	SkipNotFirstDate     = "not_first_date"
	SkipNoPreviousPeriod = "no_previous_period"
	SkipLocked           = "locked"
)

const defaultRolloverBatchSize = 500

// RolloverRepository is the persistence rollover needs
type RolloverRepository interface {
	GetPeriodDate(ctx context.Context, id int64) (*models.PeriodDate, error)
	FirstPeriodDateID(ctx context.Context, periodID int64) (int64, error)
	FindPreviousPeriod(ctx context.Context, cadence models.Cadence, exclude int64, before time.Time) (*models.Period, error)
	ListCarryCandidates(ctx context.Context, periodID int64, statuses []models.Status) ([]models.CarryCandidate, error)
	WithTx(ctx context.Context, fn func(store.Tx) error) error
}

// Locker guards a run against concurrent execution
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// RolloverService seeds a new weekly period with the unresolved items of
// the previous one
type RolloverService struct {
	repo      RolloverRepository
	locker    Locker
	batchSize int
	lockTTL   time.Duration
	logger    *zap.Logger
}

// NewRolloverService creates a new rollover service. locker may be nil.
func NewRolloverService(repo RolloverRepository, locker Locker, batchSize int, lockTTL time.Duration) *RolloverService {
	if batchSize <= 0 {
		batchSize = defaultRolloverBatchSize
	}
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &RolloverService{
		repo:      repo,
		locker:    locker,
		batchSize: batchSize,
		lockTTL:   lockTTL,
		logger:    util.GetLogger(),
	}
}

// RolloverResult summarises one run
type RolloverResult struct {
	PeriodDateID   int64  `json:"period_date_id"`
	SourcePeriodID int64  `json:"source_period_id,omitempty"`
	Candidates     int    `json:"candidates"`
	Carried        int    `json:"carried"`
	Skipped        int    `json:"skipped"`
	Failed         int    `json:"failed"`
	SkipReason     string `json:"skip_reason,omitempty"`
}

// Run carries seasonal and temporarily unavailable items of the previous
// weekly period into periodDateID. Re-running is harmless: rows that already
// exist are skipped and their caches are not shifted again. Row failures are
// logged and counted, never returned.
func (s *RolloverService) Run(ctx context.Context, periodDateID int64) (_ *RolloverResult, err error) {
	ctx, span := util.StartSpan(ctx, "RolloverService.Run")
	defer func() { util.EndSpan(span, err) }()

	result := &RolloverResult{PeriodDateID: periodDateID}

	pd, err := s.repo.GetPeriodDate(ctx, periodDateID)
	if err != nil {
		return nil, resolveErr(err, "period_date_id")
	}

	if pd.Cadence != models.CadenceWeekly {
		return s.skip(result, SkipNotWeekly), nil
	}

	first, err := s.repo.FirstPeriodDateID(ctx, pd.PeriodID)
	if err != nil {
		return nil, fmt.Errorf("failed to find first period date: %w", err)
	}
	if first != pd.ID {
		return s.skip(result, SkipNotFirstDate), nil
	}

	if s.locker != nil {
		lockKey := fmt.Sprintf("rollover:%d", periodDateID)
		token, err := s.locker.AcquireLock(ctx, lockKey, s.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire rollover lock: %w", err)
		}
		if token == "" {
			return s.skip(result, SkipLocked), nil
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.Background(), lockKey, token); err != nil {
				s.logger.Warn("Failed to release rollover lock", zap.String("key", lockKey), zap.Error(err))
			}
		}()
	}

	previous, err := s.repo.FindPreviousPeriod(ctx, models.CadenceWeekly, pd.PeriodID, pd.Date)
	if err != nil {
		return nil, fmt.Errorf("failed to find previous period: %w", err)
	}
	if previous == nil {
		return s.skip(result, SkipNoPreviousPeriod), nil
	}
	result.SourcePeriodID = previous.ID

	candidates, err := s.repo.ListCarryCandidates(ctx, previous.ID,
		[]models.Status{models.StatusSeasonalUnavailable, models.StatusTemporarilyUnavailable})
	if err != nil {
		return nil, fmt.Errorf("failed to list carry candidates: %w", err)
	}

	selected := SelectCarryForward(candidates)
	result.Candidates = len(selected)

	rows := make([]models.PriceObservation, len(selected))
	for i, c := range selected {
		rows[i] = CarriedObservation(c, pd.ID)
	}

	for start := 0; start < len(rows); start += s.batchSize {
		end := start + s.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		carried, failed := s.persistBatch(ctx, rows[start:end])
		result.Carried += carried
		result.Failed += failed
	}
	result.Skipped = result.Candidates - result.Carried - result.Failed

	util.RolloverRunsTotal.WithLabelValues("completed").Inc()
	util.RolloverCarriedTotal.Add(float64(result.Carried))

	s.logger.Info("Rollover completed",
		zap.Int64("period_date_id", periodDateID),
		zap.Int64("source_period_id", previous.ID),
		zap.Int("candidates", result.Candidates),
		zap.Int("carried", result.Carried),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed))

	return result, nil
}

func (s *RolloverService) skip(result *RolloverResult, reason string) *RolloverResult {
	util.RolloverRunsTotal.WithLabelValues("skipped_" + reason).Inc()
	s.logger.Info("Rollover skipped",
		zap.Int64("period_date_id", result.PeriodDateID),
		zap.String("reason", reason))
	result.SkipReason = reason
	return result
}

// persistBatch writes rows in one transaction, falling back to one
// transaction per row when the batch fails.
func (s *RolloverService) persistBatch(ctx context.Context, rows []models.PriceObservation) (carried, failed int) {
	n, err := s.insertAndShift(ctx, rows)
	if err == nil {
		return n, 0
	}

	s.logger.Warn("Rollover batch failed, retrying row by row",
		zap.Int("rows", len(rows)),
		zap.Error(err))

	for i := range rows {
		n, err := s.insertAndShift(ctx, rows[i:i+1])
		if err != nil {
			failed++
			util.RolloverRowFailuresTotal.Inc()
			s.logger.Error("Failed to carry observation",
				zap.Int64("product_id", rows[i].ProductID),
				zap.Int64("stall_id", rows[i].StallID),
				zap.Int64("period_date_id", rows[i].PeriodDateID),
				zap.Error(err))
			continue
		}
		carried += n
	}
	return carried, failed
}

func (s *RolloverService) insertAndShift(ctx context.Context, rows []models.PriceObservation) (int, error) {
	var inserted []int64
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		inserted, err = tx.InsertObservationsIgnoringConflicts(ctx, rows)
		if err != nil {
			return err
		}
		return tx.ShiftStallProductPrices(ctx, inserted)
	})
	if err != nil {
		return 0, err
	}
	return len(inserted), nil
}
