package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Davronbekjonbek/planshet-back/internal/models"
	"github.com/Davronbekjonbek/planshet-back/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// fakeDB is an in-memory stand-in for the store. WithTx restores the
// mutable tables when fn fails, so rollback behaviour is observable.
type fakeDB struct {
	mu sync.Mutex

	products      map[int64]*models.Product
	stalls        map[int64]*models.Stall
	objects       map[int64]*models.Object
	employees     map[int64]*models.Employee
	periods       map[int64]*models.Period
	periodDates   map[int64]*models.PeriodDate
	stallProducts map[int64]*models.StallProduct
	observations  []models.PriceObservation

	nextID int64
	clock  time.Time

	// failInsert makes single and bulk inserts fail for these product ids
	failInsert map[int64]bool
	// failBulk makes every bulk insert fail
	failBulk bool
	txCount  int
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		products:      map[int64]*models.Product{},
		stalls:        map[int64]*models.Stall{},
		objects:       map[int64]*models.Object{},
		employees:     map[int64]*models.Employee{},
		periods:       map[int64]*models.Period{},
		periodDates:   map[int64]*models.PeriodDate{},
		stallProducts: map[int64]*models.StallProduct{},
		failInsert:    map[int64]bool{},
		nextID:        1000,
		clock:         time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC),
	}
}

func (db *fakeDB) id() int64 {
	db.nextID++
	return db.nextID
}

func (db *fakeDB) tick() time.Time {
	db.clock = db.clock.Add(time.Minute)
	return db.clock
}

func (db *fakeDB) addProduct(name string, base string) *models.Product {
	p := &models.Product{
		ID:               db.id(),
		UUID:             uuid.New(),
		Name:             name,
		Code:             name,
		CategoryCode:     "01",
		UnitBaseQuantity: decimal.RequireFromString(base),
	}
	db.products[p.ID] = p
	return p
}

func (db *fakeDB) addEmployee(name string) *models.Employee {
	e := &models.Employee{ID: db.id(), UUID: uuid.New(), FullName: name}
	db.employees[e.ID] = e
	return e
}

func (db *fakeDB) addObject(name string, employee *models.Employee) *models.Object {
	o := &models.Object{ID: db.id(), UUID: uuid.New(), Name: name, EmployeeID: employee.ID, IsActive: true}
	db.objects[o.ID] = o
	return o
}

func (db *fakeDB) addStall(name string, object *models.Object, cadence models.Cadence) *models.Stall {
	s := &models.Stall{ID: db.id(), UUID: uuid.New(), ObjectID: object.ID, Name: name, IsActive: true, Cadence: cadence}
	db.stalls[s.ID] = s
	return s
}

func (db *fakeDB) addPeriod(name string, cadence models.Cadence) *models.Period {
	p := &models.Period{ID: db.id(), Name: name, Cadence: cadence, IsActive: true}
	db.periods[p.ID] = p
	return p
}

func (db *fakeDB) addPeriodDate(period *models.Period, date time.Time) *models.PeriodDate {
	pd := &models.PeriodDate{ID: db.id(), PeriodID: period.ID, Date: date, Cadence: period.Cadence}
	db.periodDates[pd.ID] = pd
	return pd
}

func (db *fakeDB) addStallProduct(product *models.Product, stall *models.Stall, last string) *models.StallProduct {
	sp := &models.StallProduct{
		ID:        db.id(),
		ProductID: product.ID,
		StallID:   stall.ID,
		LastPrice: decimal.RequireFromString(last),
		IsActive:  true,
		IsWeekly:  stall.Cadence == models.CadenceWeekly,
	}
	db.stallProducts[sp.ID] = sp
	return sp
}

func (db *fakeDB) findStallProduct(productID, stallID int64) *models.StallProduct {
	for _, sp := range db.stallProducts {
		if sp.ProductID == productID && sp.StallID == stallID {
			return sp
		}
	}
	return nil
}

func (db *fakeDB) observationsFor(periodDateID int64) []models.PriceObservation {
	db.mu.Lock()
	defer db.mu.Unlock()

	var out []models.PriceObservation
	for _, o := range db.observations {
		if o.PeriodDateID == periodDateID {
			out = append(out, o)
		}
	}
	return out
}

// LedgerRepository

func (db *fakeDB) GetProductByID(_ context.Context, id int64) (*models.Product, error) {
	p, ok := db.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %d", store.ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (db *fakeDB) GetProductByUUID(_ context.Context, id uuid.UUID) (*models.Product, error) {
	for _, p := range db.products {
		if p.UUID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
}

func (db *fakeDB) GetStallByUUID(_ context.Context, id uuid.UUID) (*models.Stall, error) {
	for _, s := range db.stalls {
		if s.UUID == id {
			cp := *s
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: stall %s", store.ErrNotFound, id)
}

func (db *fakeDB) GetStallByID(_ context.Context, id int64) (*models.Stall, error) {
	s, ok := db.stalls[id]
	if !ok {
		return nil, fmt.Errorf("%w: stall %d", store.ErrNotFound, id)
	}
	cp := *s
	return &cp, nil
}

func (db *fakeDB) GetObjectByID(_ context.Context, id int64) (*models.Object, error) {
	o, ok := db.objects[id]
	if !ok {
		return nil, fmt.Errorf("%w: object %d", store.ErrNotFound, id)
	}
	cp := *o
	return &cp, nil
}

func (db *fakeDB) GetEmployeeByUUID(_ context.Context, id uuid.UUID) (*models.Employee, error) {
	for _, e := range db.employees {
		if e.UUID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: employee %s", store.ErrNotFound, id)
}

func (db *fakeDB) GetEmployeeByLogin(_ context.Context, login string) (*models.Employee, error) {
	for _, e := range db.employees {
		if e.Login != "" && e.Login == login {
			cp := *e
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: employee %s", store.ErrNotFound, login)
}

func (db *fakeDB) GetPeriodDate(_ context.Context, id int64) (*models.PeriodDate, error) {
	pd, ok := db.periodDates[id]
	if !ok {
		return nil, fmt.Errorf("%w: period date %d", store.ErrNotFound, id)
	}
	cp := *pd
	return &cp, nil
}

func (db *fakeDB) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.txCount++
	snapshot := make(map[int64]models.StallProduct, len(db.stallProducts))
	for id, sp := range db.stallProducts {
		snapshot[id] = *sp
	}
	observations := append([]models.PriceObservation(nil), db.observations...)

	if err := fn(&fakeTx{db: db}); err != nil {
		// restore in place so pointers held by tests stay valid
		for id, sp := range db.stallProducts {
			prev, ok := snapshot[id]
			if !ok {
				delete(db.stallProducts, id)
				continue
			}
			*sp = prev
		}
		db.observations = observations
		return err
	}
	return nil
}

// PeriodRepository

func (db *fakeDB) CreatePeriod(_ context.Context, period *models.Period) error {
	for _, p := range db.periods {
		if p.Name == period.Name {
			return fmt.Errorf("%w: periods_name_key", store.ErrDuplicate)
		}
	}
	period.ID = db.id()
	period.CreatedAt = db.tick()
	cp := *period
	db.periods[cp.ID] = &cp
	return nil
}

func (db *fakeDB) GetPeriod(_ context.Context, id int64) (*models.Period, error) {
	p, ok := db.periods[id]
	if !ok {
		return nil, fmt.Errorf("%w: period %d", store.ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (db *fakeDB) CreatePeriodDate(_ context.Context, pd *models.PeriodDate) error {
	pd.ID = db.id()
	cp := *pd
	db.periodDates[cp.ID] = &cp
	return nil
}

func (db *fakeDB) ListPeriodDates(_ context.Context, periodID int64) ([]models.PeriodDate, error) {
	var out []models.PeriodDate
	for _, pd := range db.periodDates {
		if pd.PeriodID == periodID {
			out = append(out, *pd)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// CatalogRepository

func (db *fakeDB) GetProductsByIDs(_ context.Context, ids []int64) ([]models.Product, error) {
	var out []models.Product
	for _, id := range ids {
		if p, ok := db.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (db *fakeDB) ListStallProducts(_ context.Context, stallID, periodDateID int64) ([]models.StallProductListing, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var out []models.StallProductListing
	for _, sp := range db.stallProducts {
		if sp.StallID != stallID || !sp.IsActive || sp.IsRemoved {
			continue
		}
		p := db.products[sp.ProductID]
		l := models.StallProductListing{
			StallProduct:     *sp,
			ProductUUID:      p.UUID,
			ProductName:      p.Name,
			ProductCode:      p.Code,
			UnitBaseQuantity: p.UnitBaseQuantity,
		}
		for _, o := range db.observations {
			if o.ProductID == sp.ProductID && o.StallID == stallID && o.PeriodDateID == periodDateID {
				status := o.Status
				l.CurrentStatus = &status
				l.CreatedDuringRollover = o.CreatedDuringRollover
			}
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductName != out[j].ProductName {
			return out[i].ProductName < out[j].ProductName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (db *fakeDB) UpsertStallProducts(_ context.Context, stallID int64, productIDs []int64, isWeekly bool) (int64, error) {
	var n int64
	for _, pid := range productIDs {
		if sp := db.findStallProduct(pid, stallID); sp != nil {
			sp.IsRemoved = false
			sp.IsActive = true
		} else {
			sp := &models.StallProduct{ID: db.id(), ProductID: pid, StallID: stallID, IsActive: true, IsWeekly: isWeekly}
			db.stallProducts[sp.ID] = sp
		}
		n++
	}
	return n, nil
}

func (db *fakeDB) RemoveStallProduct(_ context.Context, stallID, productID int64) error {
	sp := db.findStallProduct(productID, stallID)
	if sp == nil {
		return fmt.Errorf("%w: product %d on stall %d", store.ErrNotFound, productID, stallID)
	}
	sp.IsRemoved = true
	return nil
}

func (db *fakeDB) UpdateObservationFlags(_ context.Context, id int64, checked, active *bool) (*models.PriceObservation, error) {
	for i := range db.observations {
		o := &db.observations[i]
		if o.ID != id {
			continue
		}
		if checked != nil {
			o.IsChecked = *checked
		}
		if active != nil {
			o.IsActive = *active
		}
		cp := *o
		return &cp, nil
	}
	return nil, fmt.Errorf("%w: observation %d", store.ErrNotFound, id)
}

// RolloverRepository

func (db *fakeDB) FirstPeriodDateID(_ context.Context, periodID int64) (int64, error) {
	var first int64
	for _, pd := range db.periodDates {
		if pd.PeriodID == periodID && (first == 0 || pd.ID < first) {
			first = pd.ID
		}
	}
	if first == 0 {
		return 0, fmt.Errorf("%w: dates of period %d", store.ErrNotFound, periodID)
	}
	return first, nil
}

func (db *fakeDB) FindPreviousPeriod(_ context.Context, cadence models.Cadence, exclude int64, before time.Time) (*models.Period, error) {
	latest := map[int64]time.Time{}
	for _, pd := range db.periodDates {
		if pd.Date.After(latest[pd.PeriodID]) {
			latest[pd.PeriodID] = pd.Date
		}
	}

	var best *models.Period
	var bestDate time.Time
	for id, date := range latest {
		p := db.periods[id]
		if p == nil || p.Cadence != cadence || p.ID == exclude || !date.Before(before) {
			continue
		}
		if best == nil || date.After(bestDate) || (date.Equal(bestDate) && p.ID > best.ID) {
			best, bestDate = p, date
		}
	}
	return best, nil
}

func (db *fakeDB) ListCarryCandidates(_ context.Context, periodID int64, statuses []models.Status) ([]models.CarryCandidate, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	wanted := map[models.Status]bool{}
	for _, st := range statuses {
		wanted[st] = true
	}

	var out []models.CarryCandidate
	for _, o := range db.observations {
		pd := db.periodDates[o.PeriodDateID]
		if pd == nil || pd.PeriodID != periodID || !wanted[o.Status] {
			continue
		}
		sp := db.findStallProduct(o.ProductID, o.StallID)
		if sp == nil || !sp.IsWeekly || sp.IsRemoved {
			continue
		}
		out = append(out, models.CarryCandidate{
			ObservationID:  o.ID,
			ProductID:      o.ProductID,
			StallID:        o.StallID,
			ObjectID:       o.ObjectID,
			EmployeeID:     o.EmployeeID,
			StallProductID: sp.ID,
			Status:         o.Status,
			Quantity:       sp.Quantity,
			ObservedAt:     o.CreatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ObservedAt.Before(out[j].ObservedAt) })
	return out, nil
}

type fakeTx struct {
	db *fakeDB
}

func (t *fakeTx) EnsureStallProduct(_ context.Context, productID, stallID int64, isWeekly bool) (*models.StallProduct, error) {
	sp := t.db.findStallProduct(productID, stallID)
	if sp == nil {
		sp = &models.StallProduct{ID: t.db.id(), ProductID: productID, StallID: stallID, IsActive: true, IsWeekly: isWeekly}
		t.db.stallProducts[sp.ID] = sp
	}
	cp := *sp
	return &cp, nil
}

func (t *fakeTx) exists(o *models.PriceObservation) bool {
	for _, existing := range t.db.observations {
		if existing.ProductID == o.ProductID && existing.StallID == o.StallID && existing.PeriodDateID == o.PeriodDateID {
			return true
		}
	}
	return false
}

func (t *fakeTx) InsertObservation(_ context.Context, obs *models.PriceObservation) error {
	if t.db.failInsert[obs.ProductID] {
		return errors.New("insert failed")
	}
	if t.exists(obs) {
		return fmt.Errorf("%w: uq_observation_period", store.ErrDuplicate)
	}
	obs.ID = t.db.id()
	obs.IsActive = true
	obs.CreatedAt = t.db.tick()
	t.db.observations = append(t.db.observations, *obs)
	return nil
}

func (t *fakeTx) SaveStallProductPrices(_ context.Context, sp *models.StallProduct) error {
	existing, ok := t.db.stallProducts[sp.ID]
	if !ok {
		return fmt.Errorf("%w: stall product %d", store.ErrNotFound, sp.ID)
	}
	existing.LastPrice = sp.LastPrice
	existing.PreviousPrice = sp.PreviousPrice
	return nil
}

func (t *fakeTx) InsertObservationsIgnoringConflicts(_ context.Context, obs []models.PriceObservation) ([]int64, error) {
	if t.db.failBulk {
		return nil, errors.New("bulk insert failed")
	}
	var inserted []int64
	for i := range obs {
		o := obs[i]
		if t.db.failInsert[o.ProductID] {
			return nil, errors.New("insert failed")
		}
		if t.exists(&o) {
			continue
		}
		o.ID = t.db.id()
		o.CreatedAt = t.db.tick()
		t.db.observations = append(t.db.observations, o)
		inserted = append(inserted, o.StallProductID)
	}
	return inserted, nil
}

func (t *fakeTx) ShiftStallProductPrices(_ context.Context, ids []int64) error {
	for _, id := range ids {
		sp, ok := t.db.stallProducts[id]
		if !ok {
			continue
		}
		next := ApplyRollover(*sp)
		*sp = next
	}
	return nil
}

type fakeClock struct {
	dates map[models.Cadence]*models.PeriodDate
}

func (c *fakeClock) Current(_ context.Context, cadence models.Cadence) (*models.PeriodDate, error) {
	pd, ok := c.dates[cadence]
	if !ok {
		return nil, PreconditionFailed(fmt.Sprintf("no active period for cadence %s", cadence))
	}
	return pd, nil
}

type fakeObservationPublisher struct {
	mu     sync.Mutex
	events []*models.ObservationRecordedEvent
	err    error
}

func (p *fakeObservationPublisher) PublishObservationRecorded(_ context.Context, ev *models.ObservationRecordedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}
