package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Davronbekjonbek/planshet-back/internal/models"
	"github.com/Davronbekjonbek/planshet-back/internal/store"
	"github.com/Davronbekjonbek/planshet-back/internal/util"

	"go.uber.org/zap"
)

const dayLayout = "2006-01-02"

// PeriodDateFinder looks up the period date for a calendar day
type PeriodDateFinder interface {
	FindCurrentPeriodDate(ctx context.Context, cadence models.Cadence, day time.Time) (*models.PeriodDate, error)
}

// PeriodCache caches the current period date per cadence and day
type PeriodCache interface {
	GetCurrentPeriodDate(ctx context.Context, cadence models.Cadence, day string) (*models.PeriodDate, bool, error)
	SetCurrentPeriodDate(ctx context.Context, cadence models.Cadence, day string, pd *models.PeriodDate, ttl time.Duration) error
	InvalidateCurrentPeriodDate(ctx context.Context, cadence models.Cadence, day string) error
}

// PeriodClock resolves "today's" period date for a cadence
type PeriodClock struct {
	finder PeriodDateFinder
	cache  PeriodCache
	loc    *time.Location
	now    func() time.Time
	logger *zap.Logger
}

// NewPeriodClock creates a new period clock. cache may be nil.
func NewPeriodClock(finder PeriodDateFinder, cache PeriodCache, loc *time.Location) *PeriodClock {
	if loc == nil {
		loc = time.UTC
	}
	return &PeriodClock{
		finder: finder,
		cache:  cache,
		loc:    loc,
		now:    time.Now,
		logger: util.GetLogger(),
	}
}

// Today returns the current calendar day in the clock's timezone
func (c *PeriodClock) Today() time.Time {
	now := c.now().In(c.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.loc)
}

// Current returns the period date matching today for cadence. Redis errors
// fall back to the database; a missing period is PreconditionFailed.
func (c *PeriodClock) Current(ctx context.Context, cadence models.Cadence) (_ *models.PeriodDate, err error) {
	ctx, span := util.StartSpan(ctx, "PeriodClock.Current")
	defer func() { util.EndSpan(span, err) }()

	today := c.Today()
	day := today.Format(dayLayout)

	if c.cache != nil {
		pd, ok, err := c.cache.GetCurrentPeriodDate(ctx, cadence, day)
		switch {
		case err != nil:
			util.PeriodClockCacheTotal.WithLabelValues("error").Inc()
			c.logger.Warn("Period cache read failed, falling back to DB",
				zap.String("cadence", string(cadence)),
				zap.Error(err))
		case ok:
			util.PeriodClockCacheTotal.WithLabelValues("hit").Inc()
			return pd, nil
		default:
			util.PeriodClockCacheTotal.WithLabelValues("miss").Inc()
		}
	}

	pd, err := c.finder.FindCurrentPeriodDate(ctx, cadence, today)
	if errors.Is(err, store.ErrNotFound) {
		return nil, PreconditionFailed(fmt.Sprintf("no active period for cadence %s", cadence))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve current period: %w", err)
	}

	if c.cache != nil {
		if err := c.cache.SetCurrentPeriodDate(ctx, cadence, day, pd, c.ttlUntilMidnight()); err != nil {
			c.logger.Warn("Failed to cache current period", zap.Error(err))
		}
	}

	return pd, nil
}

// Invalidate drops the cached period date of day for cadence
func (c *PeriodClock) Invalidate(ctx context.Context, cadence models.Cadence, day time.Time) {
	if c.cache == nil {
		return
	}
	if err := c.cache.InvalidateCurrentPeriodDate(ctx, cadence, day.Format(dayLayout)); err != nil {
		c.logger.Warn("Failed to invalidate period cache", zap.Error(err))
	}
}

func (c *PeriodClock) ttlUntilMidnight() time.Duration {
	ttl := c.Today().AddDate(0, 0, 1).Sub(c.now().In(c.loc))
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}
