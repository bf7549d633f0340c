package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Davronbekjonbek/planshet-back/internal/models"
	"github.com/Davronbekjonbek/planshet-back/internal/store"
	"github.com/Davronbekjonbek/planshet-back/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerRepository is the persistence the ledger needs
type LedgerRepository interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetProductByUUID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetStallByID(ctx context.Context, id int64) (*models.Stall, error)
	GetStallByUUID(ctx context.Context, id uuid.UUID) (*models.Stall, error)
	GetObjectByID(ctx context.Context, id int64) (*models.Object, error)
	GetEmployeeByUUID(ctx context.Context, id uuid.UUID) (*models.Employee, error)
	GetEmployeeByLogin(ctx context.Context, login string) (*models.Employee, error)
	GetPeriodDate(ctx context.Context, id int64) (*models.PeriodDate, error)
	WithTx(ctx context.Context, fn func(store.Tx) error) error
}

// CurrentPeriodResolver resolves today's period date for a cadence
type CurrentPeriodResolver interface {
	Current(ctx context.Context, cadence models.Cadence) (*models.PeriodDate, error)
}

// ObservationEventPublisher publishes ledger events
type ObservationEventPublisher interface {
	PublishObservationRecorded(ctx context.Context, event *models.ObservationRecordedEvent) error
}

// LedgerService records price observations and keeps the stall product
// price cache in step with them
type LedgerService struct {
	repo      LedgerRepository
	clock     CurrentPeriodResolver
	publisher ObservationEventPublisher
	logger    *zap.Logger
}

// NewLedgerService creates a new ledger service. publisher may be nil.
func NewLedgerService(repo LedgerRepository, clock CurrentPeriodResolver, publisher ObservationEventPublisher) *LedgerService {
	return &LedgerService{
		repo:      repo,
		clock:     clock,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// RecordObservationRequest is one price report from a field agent. Product
// and stall refs are a UUID or a numeric id. The agent is named by
// EmployeeRef (UUID) or, for form imports, by EmployeeLogin.
type RecordObservationRequest struct {
	ProductRef    string              `json:"product_ref"`
	StallRef      string              `json:"stall_ref"`
	EmployeeRef   string              `json:"employee_ref"`
	EmployeeLogin string              `json:"employee_login,omitempty"`
	Cadence       string              `json:"period_cadence,omitempty"`
	PeriodDateID  *int64              `json:"period_date_id,omitempty"`
	Price         decimal.Decimal     `json:"price"`
	UnitQuantity  decimal.Decimal     `json:"unit_quantity"`
	Status        string              `json:"status"`
	Alternative   *AlternativeRequest `json:"alternative,omitempty"`
}

// AlternativeRequest names the product sold instead of a not-selling one
type AlternativeRequest struct {
	ProductRef string          `json:"product_ref"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
}

// CachePrices is the stall product cache after a write
type CachePrices struct {
	StallProductID int64           `json:"id"`
	PreviousPrice  decimal.Decimal `json:"previous_price"`
	LastPrice      decimal.Decimal `json:"last_price"`
}

// RecordObservationResult echoes what was stored
type RecordObservationResult struct {
	Observation        *models.PriceObservation `json:"observation"`
	StallProduct       CachePrices              `json:"stall_product"`
	Alternative        *models.PriceObservation `json:"alternative,omitempty"`
	AlternativeProduct *CachePrices             `json:"alternative_stall_product,omitempty"`
}

type parsedRequest struct {
	productRef   ref
	stallRef     ref
	employeeRef  uuid.UUID
	login        string
	cadence      models.Cadence
	status       models.Status
	price        decimal.Decimal
	unitQuantity decimal.Decimal
	alternative  *parsedAlternative
}

type parsedAlternative struct {
	productRef ref
	price      decimal.Decimal
	quantity   decimal.Decimal
}

// ref names an entity by its external UUID or its numeric id
type ref struct {
	uuid uuid.UUID
	id   int64
}

func parseUUID(field, value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, Invalid(field, "is required")
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, Invalid(field, "must be a UUID")
	}
	return id, nil
}

func parseRef(field, value string) (ref, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return ref{}, Invalid(field, "is required")
	}
	if id, err := uuid.Parse(value); err == nil {
		return ref{uuid: id}, nil
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil && n > 0 {
		return ref{id: n}, nil
	}
	return ref{}, Invalid(field, "must be a UUID or a numeric id")
}

func (req *RecordObservationRequest) validate() (*parsedRequest, error) {
	var (
		p   parsedRequest
		err error
	)

	if p.productRef, err = parseRef("product_ref", req.ProductRef); err != nil {
		return nil, err
	}
	if p.stallRef, err = parseRef("stall_ref", req.StallRef); err != nil {
		return nil, err
	}
	if login := strings.TrimSpace(req.EmployeeLogin); req.EmployeeRef == "" && login != "" {
		p.login = login
	} else if p.employeeRef, err = parseUUID("employee_ref", req.EmployeeRef); err != nil {
		return nil, err
	}

	if p.status, err = models.ParseStatus(req.Status); err != nil {
		return nil, Invalid("status", err.Error())
	}
	if req.Cadence != "" {
		if p.cadence, err = models.ParseCadence(req.Cadence); err != nil {
			return nil, Invalid("period_cadence", err.Error())
		}
	}

	if req.Price.IsNegative() {
		return nil, Invalid("price", "must not be negative")
	}
	if req.UnitQuantity.IsNegative() {
		return nil, Invalid("unit_quantity", "must not be negative")
	}
	p.price = req.Price
	p.unitQuantity = req.UnitQuantity

	if alt := req.Alternative; alt != nil {
		if p.status != models.StatusNotSelling {
			return nil, Invalid("alternative", "only allowed with status not_selling")
		}
		altRef, err := parseRef("alternative.product_ref", alt.ProductRef)
		if err != nil {
			return nil, err
		}
		if altRef == p.productRef {
			return nil, Invalid("alternative.product_ref", "must differ from product_ref")
		}
		if !alt.Price.IsPositive() {
			return nil, Invalid("alternative.price", "must be positive")
		}
		if !alt.Quantity.IsPositive() {
			return nil, Invalid("alternative.quantity", "must be positive")
		}
		p.alternative = &parsedAlternative{productRef: altRef, price: alt.Price, quantity: alt.Quantity}
	}

	return &p, nil
}

type resolvedRequest struct {
	product    *models.Product
	stall      *models.Stall
	object     *models.Object
	employee   *models.Employee
	periodDate *models.PeriodDate
	altProduct *models.Product
}

func (s *LedgerService) resolve(ctx context.Context, req *RecordObservationRequest, p *parsedRequest) (*resolvedRequest, error) {
	var (
		r   resolvedRequest
		err error
	)

	if r.product, err = s.getProduct(ctx, p.productRef); err != nil {
		return nil, resolveErr(err, "product_ref")
	}
	if r.stall, err = s.getStall(ctx, p.stallRef); err != nil {
		return nil, resolveErr(err, "stall_ref")
	}
	if !r.stall.IsActive {
		return nil, Invalid("stall_ref", "stall is closed")
	}
	if r.object, err = s.repo.GetObjectByID(ctx, r.stall.ObjectID); err != nil {
		return nil, resolveErr(err, "stall_ref")
	}
	if p.login != "" {
		r.employee, err = s.repo.GetEmployeeByLogin(ctx, p.login)
	} else {
		r.employee, err = s.repo.GetEmployeeByUUID(ctx, p.employeeRef)
	}
	if err != nil {
		return nil, resolveErr(err, "employee_ref")
	}

	if p.alternative != nil {
		if r.altProduct, err = s.getProduct(ctx, p.alternative.productRef); err != nil {
			return nil, resolveErr(err, "alternative.product_ref")
		}
		if r.altProduct.ID == r.product.ID {
			return nil, Invalid("alternative.product_ref", "must differ from product_ref")
		}
	}

	if req.PeriodDateID != nil {
		if r.periodDate, err = s.repo.GetPeriodDate(ctx, *req.PeriodDateID); err != nil {
			return nil, resolveErr(err, "period_date_id")
		}
		return &r, nil
	}

	cadence := p.cadence
	if cadence == "" {
		cadence = r.stall.Cadence
	}
	if r.periodDate, err = s.clock.Current(ctx, cadence); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *LedgerService) getProduct(ctx context.Context, r ref) (*models.Product, error) {
	if r.id != 0 {
		return s.repo.GetProductByID(ctx, r.id)
	}
	return s.repo.GetProductByUUID(ctx, r.uuid)
}

func (s *LedgerService) getStall(ctx context.Context, r ref) (*models.Stall, error) {
	if r.id != 0 {
		return s.repo.GetStallByID(ctx, r.id)
	}
	return s.repo.GetStallByUUID(ctx, r.uuid)
}

// RecordObservation validates and records one observation, updating the
// stall product cache in the same transaction. A not-selling report with an
// alternative also records the substitute; both commit or neither does.
func (s *LedgerService) RecordObservation(ctx context.Context, req *RecordObservationRequest) (_ *RecordObservationResult, err error) {
	ctx, span := util.StartSpan(ctx, "LedgerService.RecordObservation")
	start := time.Now()
	defer func() {
		util.RecordLatency.Observe(time.Since(start).Seconds())
		util.EndSpan(span, err)
	}()

	parsed, err := req.validate()
	if err != nil {
		util.ObservationsFailedTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	r, err := s.resolve(ctx, req, parsed)
	if err != nil {
		util.ObservationsFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	result := &RecordObservationResult{}
	isWeekly := r.stall.Cadence == models.CadenceWeekly

	err = s.repo.WithTx(ctx, func(tx store.Tx) error {
		price := parsed.price
		unitQuantity := parsed.unitQuantity

		if alt := parsed.alternative; alt != nil {
			altObs, altCache, err := s.insertAndShift(ctx, tx, r, r.altProduct, isWeekly, observationInput{
				price:          alt.price,
				unitQuantity:   alt.quantity,
				status:         models.StatusAvailable,
				alternativeFor: &r.product.ID,
			})
			if err != nil {
				if errors.Is(err, store.ErrDuplicate) {
					return Conflict("alternative product already recorded for this stall and period")
				}
				return err
			}
			result.Alternative = altObs
			result.AlternativeProduct = altCache

			// The original item itself was not on sale
			price = decimal.Zero
		}

		obs, cache, err := s.insertAndShift(ctx, tx, r, r.product, isWeekly, observationInput{
			price:        price,
			unitQuantity: unitQuantity,
			status:       parsed.status,
		})
		if err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return Conflict("observation already recorded for this product, stall and period")
			}
			return err
		}
		result.Observation = obs
		result.StallProduct = *cache
		return nil
	})
	if err != nil {
		if IsKind(err, KindConflict) {
			util.ObservationConflictsTotal.Inc()
		} else {
			util.ObservationsFailedTotal.WithLabelValues(failureReason(err)).Inc()
		}
		return nil, err
	}

	s.afterCommit(ctx, r, result)
	return result, nil
}

type observationInput struct {
	price          decimal.Decimal
	unitQuantity   decimal.Decimal
	status         models.Status
	alternativeFor *int64
}

func (s *LedgerService) insertAndShift(
	ctx context.Context,
	tx store.Tx,
	r *resolvedRequest,
	product *models.Product,
	isWeekly bool,
	in observationInput,
) (*models.PriceObservation, *CachePrices, error) {
	sp, err := tx.EnsureStallProduct(ctx, product.ID, r.stall.ID, isWeekly)
	if err != nil {
		return nil, nil, err
	}

	obs := &models.PriceObservation{
		ProductID:        product.ID,
		StallID:          r.stall.ID,
		ObjectID:         r.object.ID,
		StallProductID:   sp.ID,
		EmployeeID:       r.employee.ID,
		PeriodDateID:     r.periodDate.ID,
		Price:            in.price,
		UnitQuantity:     in.unitQuantity,
		UnitPrice:        UnitPrice(in.price, in.unitQuantity, product.UnitBaseQuantity),
		Status:           in.status,
		IsActive:         true,
		IsAlternative:    in.alternativeFor != nil,
		AlternativeForID: in.alternativeFor,
	}
	if err := tx.InsertObservation(ctx, obs); err != nil {
		return nil, nil, err
	}

	next := ApplyObservation(*sp, in.price)
	if err := tx.SaveStallProductPrices(ctx, &next); err != nil {
		return nil, nil, fmt.Errorf("failed to update stall product %d: %w", sp.ID, err)
	}

	return obs, &CachePrices{
		StallProductID: next.ID,
		PreviousPrice:  next.PreviousPrice,
		LastPrice:      next.LastPrice,
	}, nil
}

func (s *LedgerService) afterCommit(ctx context.Context, r *resolvedRequest, result *RecordObservationResult) {
	obs := result.Observation
	util.ObservationsRecordedTotal.WithLabelValues(string(obs.Status)).Inc()

	if obs.Price.IsPositive() && !r.product.WithinBand(obs.Price) {
		util.OutOfBandPricesTotal.Inc()
		s.logger.Warn("Price outside accepted band",
			zap.Int64("product_id", r.product.ID),
			zap.String("price", obs.Price.String()),
			zap.String("bottom", r.product.Bottom.String()),
			zap.String("top", r.product.Top.String()))
	}

	s.logger.Info("Observation recorded",
		zap.Int64("observation_id", obs.ID),
		zap.Int64("product_id", obs.ProductID),
		zap.Int64("stall_id", obs.StallID),
		zap.Int64("period_date_id", obs.PeriodDateID),
		zap.String("status", string(obs.Status)))

	if result.Alternative != nil {
		util.SubstitutionsTotal.Inc()
		util.ObservationsRecordedTotal.WithLabelValues(string(result.Alternative.Status)).Inc()
		s.publish(ctx, result.Alternative, result.AlternativeProduct.PreviousPrice)
	}
	s.publish(ctx, obs, result.StallProduct.PreviousPrice)
}

func (s *LedgerService) publish(ctx context.Context, obs *models.PriceObservation, previous decimal.Decimal) {
	if s.publisher == nil {
		return
	}

	event := &models.ObservationRecordedEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeObservationRecorded),
		ObservationID: obs.ID,
		ProductID:     obs.ProductID,
		StallID:       obs.StallID,
		PeriodDateID:  obs.PeriodDateID,
		Status:        obs.Status,
		Price:         obs.Price,
		PreviousPrice: previous,
		IsAlternative: obs.IsAlternative,
	}
	if err := s.publisher.PublishObservationRecorded(ctx, event); err != nil {
		s.logger.Error("Failed to publish ObservationRecorded event", zap.Error(err))
	}
}

func failureReason(err error) string {
	if kind := KindOf(err); kind != "" {
		return string(kind)
	}
	return "internal"
}

// BatchRowError describes why one row of a batch was not recorded
type BatchRowError struct {
	Index   int    `json:"index"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// BatchResult summarises a batch import
type BatchResult struct {
	Recorded  int             `json:"recorded"`
	Conflicts int             `json:"conflicts"`
	Invalid   int             `json:"invalid"`
	NotFound  int             `json:"not_found"`
	Failed    int             `json:"failed"`
	Errors    []BatchRowError `json:"errors,omitempty"`
}

// RecordBatch records rows one by one and never aborts on a bad row
func (s *LedgerService) RecordBatch(ctx context.Context, reqs []RecordObservationRequest) *BatchResult {
	ctx, span := util.StartSpan(ctx, "LedgerService.RecordBatch")
	defer span.End()

	result := &BatchResult{}
	for i := range reqs {
		if ctx.Err() != nil {
			result.Failed += len(reqs) - i
			result.Errors = append(result.Errors, BatchRowError{Index: i, Code: "cancelled", Message: ctx.Err().Error()})
			break
		}

		_, err := s.RecordObservation(ctx, &reqs[i])
		if err == nil {
			result.Recorded++
			continue
		}

		row := BatchRowError{Index: i, Message: err.Error()}
		var domainErr *Error
		if errors.As(err, &domainErr) {
			row.Code = string(domainErr.Kind)
			row.Field = domainErr.Field
			if row.Field == "" {
				row.Field = domainErr.Key
			}
		} else {
			row.Code = "internal"
		}

		switch KindOf(err) {
		case KindConflict:
			result.Conflicts++
		case KindValidation:
			result.Invalid++
		case KindNotFound:
			result.NotFound++
		default:
			result.Failed++
		}
		result.Errors = append(result.Errors, row)
	}

	s.logger.Info("Batch recorded",
		zap.Int("rows", len(reqs)),
		zap.Int("recorded", result.Recorded),
		zap.Int("conflicts", result.Conflicts),
		zap.Int("invalid", result.Invalid),
		zap.Int("not_found", result.NotFound),
		zap.Int("failed", result.Failed))
	return result
}

// RequestFromSubmission converts a queued submission into a record request
func RequestFromSubmission(ev *models.ObservationSubmittedEvent) *RecordObservationRequest {
	req := &RecordObservationRequest{
		ProductRef:    ev.ProductRef,
		StallRef:      ev.StallRef,
		EmployeeRef:   ev.EmployeeRef,
		EmployeeLogin: ev.EmployeeLogin,
		Cadence:       ev.Cadence,
		PeriodDateID:  ev.PeriodDateID,
		Price:         ev.Price,
		UnitQuantity:  ev.UnitQuantity,
		Status:        ev.Status,
	}
	if alt := ev.Alternative; alt != nil {
		req.Alternative = &AlternativeRequest{
			ProductRef: alt.ProductRef,
			Price:      alt.Price,
			Quantity:   alt.Quantity,
		}
	}
	return req
}
