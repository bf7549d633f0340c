package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Davronbekjonbek/planshet-back/internal/models"
	"github.com/Davronbekjonbek/planshet-back/internal/store"
	"github.com/Davronbekjonbek/planshet-back/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RollupScope is the hierarchy node a report is computed for
type RollupScope string

const (
	ScopeAll      RollupScope = "all"
	ScopeRegion   RollupScope = "region"
	ScopeDistrict RollupScope = "district"
	ScopeObject   RollupScope = "object"
	ScopeStall    RollupScope = "stall"
)

// Completion classifications
const (
	CompletionComplete       = "complete"
	CompletionGood           = "good"
	CompletionUnsatisfactory = "unsatisfactory"
)

var (
	completeThreshold = decimal.NewFromInt(100)
	goodThreshold     = decimal.NewFromInt(70)
	hundred           = decimal.NewFromInt(100)
)

// ParseScope validates a scope name
func ParseScope(s string) (RollupScope, error) {
	switch sc := RollupScope(s); sc {
	case ScopeAll, ScopeRegion, ScopeDistrict, ScopeObject, ScopeStall:
		return sc, nil
	case "":
		return ScopeAll, nil
	default:
		return "", fmt.Errorf("unknown scope %q", s)
	}
}

// ChildLevel is the level whose rows a report for scope lists
func (sc RollupScope) ChildLevel() RollupScope {
	switch sc {
	case ScopeAll:
		return ScopeRegion
	case ScopeRegion:
		return ScopeDistrict
	case ScopeDistrict:
		return ScopeObject
	default:
		return ScopeStall
	}
}

// RollupRepository is the persistence the rollup needs
type RollupRepository interface {
	GetPeriodDate(ctx context.Context, id int64) (*models.PeriodDate, error)
	StallCompletions(ctx context.Context, f store.CompletionFilter) ([]models.StallCompletion, error)
}

// RollupService computes completion percentages over the hierarchy
type RollupService struct {
	repo   RollupRepository
	clock  CurrentPeriodResolver
	logger *zap.Logger
}

// NewRollupService creates a new rollup service
func NewRollupService(repo RollupRepository, clock CurrentPeriodResolver) *RollupService {
	return &RollupService{
		repo:   repo,
		clock:  clock,
		logger: util.GetLogger(),
	}
}

// RollupQuery selects what a report covers. A nil Excluded means the
// non-informative statuses are excluded, unless Statuses is set; an empty
// non-nil Excluded excludes nothing.
type RollupQuery struct {
	Scope        RollupScope
	ScopeID      int64
	PeriodDateID *int64
	Statuses     []models.Status
	Excluded     []models.Status
}

// ResponsibleEmployee is an agent assigned to at least one object under a row
type ResponsibleEmployee struct {
	ID       int64     `json:"id"`
	UUID     uuid.UUID `json:"uuid"`
	FullName string    `json:"full_name"`
}

// RollupRow is one node of the report
type RollupRow struct {
	ID                   int64                 `json:"id"`
	Name                 string                `json:"name"`
	SoatoCode            string                `json:"soato_code,omitempty"`
	Total                int                   `json:"total"`
	Entered              int                   `json:"entered"`
	Percent              float64               `json:"percent"`
	Status               string                `json:"status"`
	ResponsibleEmployees []ResponsibleEmployee `json:"responsible_employees"`
}

// RollupReport is the result of Compute
type RollupReport struct {
	Scope        RollupScope `json:"scope"`
	ScopeID      int64       `json:"scope_id,omitempty"`
	Level        RollupScope `json:"level"`
	PeriodDateID int64       `json:"period_date_id"`
	PeriodID     int64       `json:"period_id"`
	Rows         []RollupRow `json:"rows"`
	Total        RollupRow   `json:"total"`
}

// Compute builds the completion report for a scope. Nothing is cached.
func (s *RollupService) Compute(ctx context.Context, q RollupQuery) (_ *RollupReport, err error) {
	ctx, span := util.StartSpan(ctx, "RollupService.Compute")
	start := time.Now()
	defer func() {
		util.RollupDuration.Observe(time.Since(start).Seconds())
		util.EndSpan(span, err)
	}()

	scope, err := ParseScope(string(q.Scope))
	if err != nil {
		return nil, Invalid("scope", err.Error())
	}
	if scope != ScopeAll && q.ScopeID <= 0 {
		return nil, Invalid("scope_id", "is required for scope "+string(scope))
	}

	var pd *models.PeriodDate
	if q.PeriodDateID != nil {
		if pd, err = s.repo.GetPeriodDate(ctx, *q.PeriodDateID); err != nil {
			return nil, resolveErr(err, "period_date_id")
		}
	} else if pd, err = s.clock.Current(ctx, models.CadenceWeekly); err != nil {
		return nil, err
	}

	filter := store.CompletionFilter{PeriodID: pd.PeriodID, Statuses: q.Statuses}
	switch {
	case q.Excluded != nil:
		filter.Excluded = q.Excluded
	case len(q.Statuses) > 0:
		filter.Excluded = []models.Status{}
	default:
		filter.Excluded = models.NonInformativeStatuses()
	}
	switch scope {
	case ScopeRegion:
		filter.RegionID = q.ScopeID
	case ScopeDistrict:
		filter.DistrictID = q.ScopeID
	case ScopeObject:
		filter.ObjectID = q.ScopeID
	case ScopeStall:
		filter.StallID = q.ScopeID
	}

	leaves, err := s.repo.StallCompletions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load stall completions: %w", err)
	}

	level := scope.ChildLevel()
	rows := BuildRollup(leaves, level)

	s.logger.Debug("Rollup computed",
		zap.String("scope", string(scope)),
		zap.Int64("scope_id", q.ScopeID),
		zap.Int64("period_id", pd.PeriodID),
		zap.Int("stalls", len(leaves)),
		zap.Int("rows", len(rows)))

	return &RollupReport{
		Scope:        scope,
		ScopeID:      q.ScopeID,
		Level:        level,
		PeriodDateID: pd.ID,
		PeriodID:     pd.PeriodID,
		Rows:         rows,
		Total:        GrandTotal(rows),
	}, nil
}

// Percent is entered/total*100 rounded to 2 dp; zero when total is zero
func Percent(entered, total int) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(entered)).Mul(hundred).Div(decimal.NewFromInt(int64(total))).Round(2)
}

// Classify maps a percentage to its completion status
func Classify(percent decimal.Decimal) string {
	switch {
	case percent.GreaterThanOrEqual(completeThreshold):
		return CompletionComplete
	case percent.GreaterThanOrEqual(goodThreshold):
		return CompletionGood
	default:
		return CompletionUnsatisfactory
	}
}

type rowAccumulator struct {
	row       RollupRow
	employees map[int64]ResponsibleEmployee
}

func (a *rowAccumulator) add(total, entered int, employees ...ResponsibleEmployee) {
	a.row.Total += total
	a.row.Entered += entered
	for _, e := range employees {
		a.employees[e.ID] = e
	}
}

func (a *rowAccumulator) finish() RollupRow {
	row := a.row
	pct := Percent(row.Entered, row.Total)
	row.Percent = pct.InexactFloat64()
	row.Status = Classify(pct)

	row.ResponsibleEmployees = make([]ResponsibleEmployee, 0, len(a.employees))
	for _, e := range a.employees {
		row.ResponsibleEmployees = append(row.ResponsibleEmployees, e)
	}
	sort.Slice(row.ResponsibleEmployees, func(i, j int) bool {
		ei, ej := row.ResponsibleEmployees[i], row.ResponsibleEmployees[j]
		if ei.FullName != ej.FullName {
			return ei.FullName < ej.FullName
		}
		return ei.ID < ej.ID
	})
	return row
}

func nodeOf(leaf models.StallCompletion, level RollupScope) (id int64, name, soato string) {
	districtSoato := leaf.RegionCode + leaf.DistrictCode
	switch level {
	case ScopeRegion:
		return leaf.RegionID, leaf.RegionName, leaf.RegionCode
	case ScopeDistrict:
		return leaf.DistrictID, leaf.DistrictName, districtSoato
	case ScopeObject:
		return leaf.ObjectID, leaf.ObjectName, districtSoato
	default:
		return leaf.StallID, leaf.StallName, districtSoato
	}
}

// BuildRollup sums stall leaves into rows of the given level, ordered by
// name with id as tiebreak. Every level is a plain sum of the stalls under
// it, so rolling up a level's rows gives the same totals as rolling up its
// stalls directly.
func BuildRollup(leaves []models.StallCompletion, level RollupScope) []RollupRow {
	acc := make(map[int64]*rowAccumulator)
	for _, leaf := range leaves {
		// stall-less objects only carry their employee upward
		if level == ScopeStall && leaf.StallID == 0 {
			continue
		}
		id, name, soato := nodeOf(leaf, level)
		a, ok := acc[id]
		if !ok {
			a = &rowAccumulator{
				row:       RollupRow{ID: id, Name: name, SoatoCode: soato},
				employees: make(map[int64]ResponsibleEmployee),
			}
			acc[id] = a
		}
		a.add(leaf.Total, leaf.Entered, ResponsibleEmployee{
			ID:       leaf.EmployeeID,
			UUID:     leaf.EmployeeUUID,
			FullName: leaf.EmployeeName,
		})
	}

	rows := make([]RollupRow, 0, len(acc))
	for _, a := range acc {
		rows = append(rows, a.finish())
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Name != rows[j].Name {
			return rows[i].Name < rows[j].Name
		}
		return rows[i].ID < rows[j].ID
	})
	return rows
}

// GrandTotal sums report rows into a single row
func GrandTotal(rows []RollupRow) RollupRow {
	a := &rowAccumulator{
		row:       RollupRow{Name: "total"},
		employees: make(map[int64]ResponsibleEmployee),
	}
	for _, r := range rows {
		a.add(r.Total, r.Entered, r.ResponsibleEmployees...)
	}
	return a.finish()
}
