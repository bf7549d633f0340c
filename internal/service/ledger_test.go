package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Davronbekjonbek/planshet-back/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ledgerFixture struct {
	db         *fakeDB
	svc        *LedgerService
	publisher  *fakeObservationPublisher
	product    *models.Product
	substitute *models.Product
	stall      *models.Stall
	employee   *models.Employee
	week       *models.PeriodDate
	month      *models.PeriodDate
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	db := newFakeDB()

	employee := db.addEmployee("Agent")
	object := db.addObject("Bozor", employee)
	stall := db.addStall("Rasta 1", object, models.CadenceWeekly)

	weekly := db.addPeriod("2025-W10", models.CadenceWeekly)
	monthly := db.addPeriod("2025-03", models.CadenceMonthly)
	week := db.addPeriodDate(weekly, time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC))
	month := db.addPeriodDate(monthly, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))

	clock := &fakeClock{dates: map[models.Cadence]*models.PeriodDate{
		models.CadenceWeekly:  week,
		models.CadenceMonthly: month,
	}}
	publisher := &fakeObservationPublisher{}

	return &ledgerFixture{
		db:         db,
		svc:        NewLedgerService(db, clock, publisher),
		publisher:  publisher,
		product:    db.addProduct("Un", "1"),
		substitute: db.addProduct("Guruch", "1"),
		stall:      stall,
		employee:   employee,
		week:       week,
		month:      month,
	}
}

func (f *ledgerFixture) request(price string, status models.Status) *RecordObservationRequest {
	return &RecordObservationRequest{
		ProductRef:   f.product.UUID.String(),
		StallRef:     f.stall.UUID.String(),
		EmployeeRef:  f.employee.UUID.String(),
		Cadence:      string(models.CadenceWeekly),
		Price:        decimal.RequireFromString(price),
		UnitQuantity: decimal.NewFromInt(1),
		Status:       string(status),
	}
}

func TestRecordObservationShiftsCache(t *testing.T) {
	f := newLedgerFixture(t)
	sp := f.db.addStallProduct(f.product, f.stall, "100")

	result, err := f.svc.RecordObservation(context.Background(), f.request("120", models.StatusAvailable))
	require.NoError(t, err)

	assert.True(t, result.StallProduct.PreviousPrice.Equal(d("100")))
	assert.True(t, result.StallProduct.LastPrice.Equal(d("120")))
	assert.Equal(t, sp.ID, result.StallProduct.StallProductID)

	obs := result.Observation
	assert.NotZero(t, obs.ID)
	assert.Equal(t, f.week.ID, obs.PeriodDateID)
	assert.Equal(t, f.stall.ObjectID, obs.ObjectID)
	assert.Equal(t, f.employee.ID, obs.EmployeeID)
	assert.True(t, obs.UnitPrice.Equal(d("120")))

	stored := f.db.stallProducts[sp.ID]
	assert.True(t, stored.PreviousPrice.Equal(d("100")))
	assert.True(t, stored.LastPrice.Equal(d("120")))

	require.Len(t, f.publisher.events, 1)
	assert.True(t, f.publisher.events[0].PreviousPrice.Equal(d("100")))
}

func TestRecordObservationCreatesStallProduct(t *testing.T) {
	f := newLedgerFixture(t)

	result, err := f.svc.RecordObservation(context.Background(), f.request("80", models.StatusAvailable))
	require.NoError(t, err)

	sp := f.db.findStallProduct(f.product.ID, f.stall.ID)
	require.NotNil(t, sp)
	assert.True(t, sp.IsWeekly)
	assert.True(t, sp.PreviousPrice.IsZero())
	assert.True(t, sp.LastPrice.Equal(d("80")))
	assert.Equal(t, sp.ID, result.Observation.StallProductID)
}

func TestRecordObservationConflictLeavesCacheUntouched(t *testing.T) {
	f := newLedgerFixture(t)
	sp := f.db.addStallProduct(f.product, f.stall, "100")
	ctx := context.Background()

	_, err := f.svc.RecordObservation(ctx, f.request("120", models.StatusAvailable))
	require.NoError(t, err)

	_, err = f.svc.RecordObservation(ctx, f.request("130", models.StatusAvailable))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConflict))

	assert.Len(t, f.db.observationsFor(f.week.ID), 1)
	stored := f.db.stallProducts[sp.ID]
	assert.True(t, stored.PreviousPrice.Equal(d("100")))
	assert.True(t, stored.LastPrice.Equal(d("120")))
}

func TestRecordObservationConcurrentSameKey(t *testing.T) {
	f := newLedgerFixture(t)
	f.db.addStallProduct(f.product, f.stall, "100")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordObservation(context.Background(), f.request("120", models.StatusAvailable))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if IsKind(err, KindConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)
	assert.Len(t, f.db.observationsFor(f.week.ID), 1)
}

func TestRecordObservationSubstitution(t *testing.T) {
	f := newLedgerFixture(t)
	f.substitute.UnitBaseQuantity = d("1")
	orig := f.db.addStallProduct(f.product, f.stall, "100")

	req := f.request("100", models.StatusNotSelling)
	req.Alternative = &AlternativeRequest{
		ProductRef: f.substitute.UUID.String(),
		Price:      d("50"),
		Quantity:   d("2"),
	}

	result, err := f.svc.RecordObservation(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, result.Alternative)
	alt := result.Alternative
	assert.Equal(t, f.substitute.ID, alt.ProductID)
	assert.Equal(t, models.StatusAvailable, alt.Status)
	assert.True(t, alt.IsAlternative)
	require.NotNil(t, alt.AlternativeForID)
	assert.Equal(t, f.product.ID, *alt.AlternativeForID)
	assert.True(t, alt.Price.Equal(d("50")))
	assert.True(t, alt.UnitQuantity.Equal(d("2")))
	assert.True(t, alt.UnitPrice.Equal(d("25")))

	assert.True(t, result.Observation.Price.IsZero())
	assert.Equal(t, models.StatusNotSelling, result.Observation.Status)

	assert.Len(t, f.db.observationsFor(f.week.ID), 2)

	subSP := f.db.findStallProduct(f.substitute.ID, f.stall.ID)
	require.NotNil(t, subSP)
	assert.True(t, subSP.LastPrice.Equal(d("50")))

	origSP := f.db.stallProducts[orig.ID]
	assert.True(t, origSP.PreviousPrice.Equal(d("100")))
	assert.True(t, origSP.LastPrice.IsZero())

	assert.Len(t, f.publisher.events, 2)
}

func TestRecordObservationSubstitutionRollsBackTogether(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	// The original product already has an observation this period
	_, err := f.svc.RecordObservation(ctx, f.request("100", models.StatusAvailable))
	require.NoError(t, err)

	req := f.request("0", models.StatusNotSelling)
	req.Alternative = &AlternativeRequest{ProductRef: f.substitute.UUID.String(), Price: d("50"), Quantity: d("2")}

	_, err = f.svc.RecordObservation(ctx, req)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConflict))

	assert.Len(t, f.db.observationsFor(f.week.ID), 1)
	if sp := f.db.findStallProduct(f.substitute.ID, f.stall.ID); sp != nil {
		assert.True(t, sp.LastPrice.IsZero())
	}
}

func TestRecordObservationValidation(t *testing.T) {
	f := newLedgerFixture(t)

	tests := []struct {
		name  string
		mut   func(r *RecordObservationRequest)
		field string
	}{
		{"bad product ref", func(r *RecordObservationRequest) { r.ProductRef = "nope" }, "product_ref"},
		{"missing employee", func(r *RecordObservationRequest) { r.EmployeeRef = "" }, "employee_ref"},
		{"unknown status", func(r *RecordObservationRequest) { r.Status = "sold_out" }, "status"},
		{"unknown cadence", func(r *RecordObservationRequest) { r.Cadence = "daily" }, "period_cadence"},
		{"negative price", func(r *RecordObservationRequest) { r.Price = d("-1") }, "price"},
		{"negative quantity", func(r *RecordObservationRequest) { r.UnitQuantity = d("-1") }, "unit_quantity"},
		{"alternative on available", func(r *RecordObservationRequest) {
			r.Alternative = &AlternativeRequest{ProductRef: f.substitute.UUID.String(), Price: d("1"), Quantity: d("1")}
		}, "alternative"},
		{"alternative without price", func(r *RecordObservationRequest) {
			r.Status = string(models.StatusNotSelling)
			r.Alternative = &AlternativeRequest{ProductRef: f.substitute.UUID.String(), Quantity: d("1")}
		}, "alternative.price"},
		{"alternative without quantity", func(r *RecordObservationRequest) {
			r.Status = string(models.StatusNotSelling)
			r.Alternative = &AlternativeRequest{ProductRef: f.substitute.UUID.String(), Price: d("1")}
		}, "alternative.quantity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request("100", models.StatusAvailable)
			tt.mut(req)

			_, err := f.svc.RecordObservation(context.Background(), req)
			require.Error(t, err)

			var domainErr *Error
			require.True(t, errors.As(err, &domainErr))
			assert.Equal(t, KindValidation, domainErr.Kind)
			assert.Equal(t, tt.field, domainErr.Field)
		})
	}
	assert.Zero(t, f.db.txCount)
}

func TestRecordObservationResolution(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	req := f.request("100", models.StatusAvailable)
	req.ProductRef = "6f1c3a52-7d7e-4c43-9a0e-0d7f4a3b2c10"
	_, err := f.svc.RecordObservation(ctx, req)
	var domainErr *Error
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, KindNotFound, domainErr.Kind)
	assert.Equal(t, "product_ref", domainErr.Key)

	f.db.stalls[f.stall.ID].IsActive = false
	_, err = f.svc.RecordObservation(ctx, f.request("100", models.StatusAvailable))
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, KindValidation, domainErr.Kind)
	assert.Equal(t, "stall_ref", domainErr.Field)
}

func TestRecordObservationByNumericIDsAndLogin(t *testing.T) {
	f := newLedgerFixture(t)
	f.db.employees[f.employee.ID].Login = "agent_1"
	sp := f.db.addStallProduct(f.product, f.stall, "100")
	ctx := context.Background()

	req := f.request("120", models.StatusAvailable)
	req.ProductRef = itoa(f.product.ID)
	req.StallRef = itoa(f.stall.ID)
	req.EmployeeRef = ""
	req.EmployeeLogin = "agent_1"

	result, err := f.svc.RecordObservation(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, f.product.ID, result.Observation.ProductID)
	assert.Equal(t, f.employee.ID, result.Observation.EmployeeID)
	assert.True(t, sp.LastPrice.Equal(d("120")))

	req = f.request("120", models.StatusAvailable)
	req.EmployeeRef = ""
	req.EmployeeLogin = "nobody"
	_, err = f.svc.RecordObservation(ctx, req)
	var domainErr *Error
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, KindNotFound, domainErr.Kind)
	assert.Equal(t, "employee_ref", domainErr.Key)
}

func TestRecordObservationAlternativeSameProductByID(t *testing.T) {
	f := newLedgerFixture(t)

	req := f.request("0", models.StatusNotSelling)
	req.Alternative = &AlternativeRequest{ProductRef: itoa(f.product.ID), Price: d("50"), Quantity: d("2")}

	_, err := f.svc.RecordObservation(context.Background(), req)
	var domainErr *Error
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, KindValidation, domainErr.Kind)
	assert.Equal(t, "alternative.product_ref", domainErr.Field)
	assert.Zero(t, f.db.txCount)
}

func TestRecordObservationPeriodResolution(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	// Explicit period date wins over cadence
	req := f.request("100", models.StatusAvailable)
	req.PeriodDateID = &f.month.ID
	result, err := f.svc.RecordObservation(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, f.month.ID, result.Observation.PeriodDateID)

	// No cadence falls back to the stall's cadence
	req = f.request("100", models.StatusAvailable)
	req.Cadence = ""
	result, err = f.svc.RecordObservation(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, f.week.ID, result.Observation.PeriodDateID)

	missing := int64(424242)
	req = f.request("100", models.StatusAvailable)
	req.PeriodDateID = &missing
	_, err = f.svc.RecordObservation(ctx, req)
	assert.True(t, IsKind(err, KindNotFound))
}

func TestRecordObservationNoActivePeriod(t *testing.T) {
	f := newLedgerFixture(t)
	f.svc.clock = &fakeClock{dates: map[models.Cadence]*models.PeriodDate{}}

	_, err := f.svc.RecordObservation(context.Background(), f.request("100", models.StatusAvailable))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindPreconditionFailed))
}

func TestRecordObservationPublishFailureIsNotFatal(t *testing.T) {
	f := newLedgerFixture(t)
	f.publisher.err = errors.New("kafka down")

	_, err := f.svc.RecordObservation(context.Background(), f.request("100", models.StatusAvailable))
	assert.NoError(t, err)
}

func TestRecordBatch(t *testing.T) {
	f := newLedgerFixture(t)
	other := f.db.addProduct("Shakar", "1")

	second := f.request("90", models.StatusAvailable)
	second.ProductRef = other.UUID.String()

	unknown := f.request("90", models.StatusAvailable)
	unknown.StallRef = "6f1c3a52-7d7e-4c43-9a0e-0d7f4a3b2c10"

	invalid := f.request("90", "bogus")

	reqs := []RecordObservationRequest{
		*f.request("100", models.StatusAvailable),
		*f.request("110", models.StatusAvailable),
		*second,
		*unknown,
		*invalid,
	}

	result := f.svc.RecordBatch(context.Background(), reqs)

	assert.Equal(t, 2, result.Recorded)
	assert.Equal(t, 1, result.Conflicts)
	assert.Equal(t, 1, result.NotFound)
	assert.Equal(t, 1, result.Invalid)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, result.Errors, 3)
	assert.Equal(t, 1, result.Errors[0].Index)
	assert.Equal(t, string(KindConflict), result.Errors[0].Code)
	assert.Equal(t, "stall_ref", result.Errors[1].Field)
	assert.Equal(t, "status", result.Errors[2].Field)
}

func TestRequestFromSubmission(t *testing.T) {
	pd := int64(5)
	ev := &models.ObservationSubmittedEvent{
		ProductRef:   "p",
		StallRef:     "s",
		EmployeeRef:  "e",
		PeriodDateID: &pd,
		Price:        d("10"),
		UnitQuantity: d("2"),
		Status:       "not_selling",
		Alternative:  &models.AlternativeData{ProductRef: "a", Price: d("5"), Quantity: d("1")},
	}

	req := RequestFromSubmission(ev)

	assert.Equal(t, "p", req.ProductRef)
	assert.Equal(t, &pd, req.PeriodDateID)
	require.NotNil(t, req.Alternative)
	assert.Equal(t, "a", req.Alternative.ProductRef)
	assert.True(t, req.Alternative.Price.Equal(d("5")))
}
