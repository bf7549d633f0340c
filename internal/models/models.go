package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Product represents a monitored commodity. Reference data, created by import.
type Product struct {
	ID               int64           `db:"id" json:"id"`
	UUID             uuid.UUID       `db:"uuid" json:"uuid"`
	Name             string          `db:"name" json:"name"`
	Code             string          `db:"code" json:"code"`
	CategoryID       int64           `db:"category_id" json:"category_id"`
	CategoryCode     string          `db:"category_code" json:"category_code"`
	CategoryName     string          `db:"category_name" json:"category_name"`
	IsPackaged       bool            `db:"is_packaged" json:"is_packaged"`
	UnitID           int64           `db:"unit_id" json:"unit_id"`
	UnitName         string          `db:"unit_name" json:"unit_name"`
	UnitBaseQuantity decimal.Decimal `db:"unit_base_quantity" json:"unit_base_quantity"`
	Price            decimal.Decimal `db:"price" json:"price"`
	Bottom           decimal.Decimal `db:"bottom" json:"bottom"`
	Top              decimal.Decimal `db:"top" json:"top"`
	IsImport         bool            `db:"is_import" json:"is_import"`
	IsWeekly         bool            `db:"is_weekly" json:"is_weekly"`
	IsSpecial        bool            `db:"is_special" json:"is_special"`
}

// WithinBand reports whether price lies inside the accepted [bottom, top] band.
// A zero top means the band is open-ended.
func (p *Product) WithinBand(price decimal.Decimal) bool {
	if price.LessThan(p.Bottom) {
		return false
	}
	return p.Top.IsZero() || price.LessThanOrEqual(p.Top)
}

// Region is the top administrative level.
type Region struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
	Code string `db:"code" json:"code"`
}

// District belongs to a region; its SOATO code is region code + district code.
type District struct {
	ID       int64  `db:"id" json:"id"`
	RegionID int64  `db:"region_id" json:"region_id"`
	Name     string `db:"name" json:"name"`
	Code     string `db:"code" json:"code"`
}

// Employee is a field agent.
type Employee struct {
	ID         int64     `db:"id" json:"id"`
	UUID       uuid.UUID `db:"uuid" json:"uuid"`
	FullName   string    `db:"full_name" json:"full_name"`
	Login      string    `db:"login" json:"login"`
	DistrictID int64     `db:"district_id" json:"district_id"`
}

// Object is a physical retail location containing stalls.
type Object struct {
	ID         int64     `db:"id" json:"id"`
	UUID       uuid.UUID `db:"uuid" json:"uuid"`
	Name       string    `db:"name" json:"name"`
	Code       string    `db:"code" json:"code"`
	DistrictID int64     `db:"district_id" json:"district_id"`
	EmployeeID int64     `db:"employee_id" json:"employee_id"`
	IsActive   bool      `db:"is_active" json:"is_active"`
}

// Stall is a selling point inside an object.
type Stall struct {
	ID           int64          `db:"id" json:"id"`
	UUID         uuid.UUID      `db:"uuid" json:"uuid"`
	ObjectID     int64          `db:"object_id" json:"object_id"`
	Name         string         `db:"name" json:"name"`
	IsActive     bool           `db:"is_active" json:"is_active"`
	Cadence      Cadence        `db:"cadence" json:"cadence"`
	ProductTypes pq.StringArray `db:"product_types" json:"product_types"`
}

// AcceptsCategory reports whether products of the given category code may be
// assigned to the stall. Only monthly stalls with declared product types filter.
func (s *Stall) AcceptsCategory(code string) bool {
	if s.Cadence != CadenceMonthly || len(s.ProductTypes) == 0 {
		return true
	}
	for _, t := range s.ProductTypes {
		if t == code {
			return true
		}
	}
	return false
}

// StallProduct is the current-price cache for a (product, stall) pair.
type StallProduct struct {
	ID            int64           `db:"id" json:"id"`
	ProductID     int64           `db:"product_id" json:"product_id"`
	StallID       int64           `db:"stall_id" json:"stall_id"`
	LastPrice     decimal.Decimal `db:"last_price" json:"last_price"`
	PreviousPrice decimal.Decimal `db:"previous_price" json:"previous_price"`
	Quantity      decimal.Decimal `db:"quantity" json:"quantity"`
	IsActive      bool            `db:"is_active" json:"is_active"`
	IsRemoved     bool            `db:"is_removed" json:"is_removed"`
	IsWeekly      bool            `db:"is_weekly" json:"is_weekly"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Period is a named reporting period of a given cadence.
type Period struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Cadence   Cadence   `db:"cadence" json:"cadence"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PeriodDate is one concrete dated instance of a Period.
type PeriodDate struct {
	ID       int64     `db:"id" json:"id"`
	PeriodID int64     `db:"period_id" json:"period_id"`
	Date     time.Time `db:"date" json:"date"`
	Cadence  Cadence   `db:"cadence" json:"cadence"`
}

// PriceObservation is one immutable ledger entry.
type PriceObservation struct {
	ID                    int64           `db:"id" json:"id"`
	ProductID             int64           `db:"product_id" json:"product_id"`
	StallID               int64           `db:"stall_id" json:"stall_id"`
	ObjectID              int64           `db:"object_id" json:"object_id"`
	StallProductID        int64           `db:"stall_product_id" json:"stall_product_id"`
	EmployeeID            int64           `db:"employee_id" json:"employee_id"`
	PeriodDateID          int64           `db:"period_date_id" json:"period_date_id"`
	Price                 decimal.Decimal `db:"price" json:"price"`
	UnitQuantity          decimal.Decimal `db:"unit_quantity" json:"unit_quantity"`
	UnitPrice             decimal.Decimal `db:"unit_price" json:"unit_price"`
	Status                Status          `db:"status" json:"status"`
	IsChecked             bool            `db:"is_checked" json:"is_checked"`
	IsActive              bool            `db:"is_active" json:"is_active"`
	IsAlternative         bool            `db:"is_alternative" json:"is_alternative"`
	AlternativeForID      *int64          `db:"alternative_for_id" json:"alternative_for_id,omitempty"`
	CreatedDuringRollover bool            `db:"created_during_rollover" json:"created_during_rollover"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
}

// CarryCandidate is a previous-period observation eligible for rollover, joined
// with the current state of its stall product.
type CarryCandidate struct {
	ObservationID  int64           `db:"observation_id"`
	ProductID      int64           `db:"product_id"`
	StallID        int64           `db:"stall_id"`
	ObjectID       int64           `db:"object_id"`
	EmployeeID     int64           `db:"employee_id"`
	StallProductID int64           `db:"stall_product_id"`
	Status         Status          `db:"status"`
	Quantity       decimal.Decimal `db:"quantity"`
	ObservedAt     time.Time       `db:"created_at"`
}

// StallCompletion is the leaf row of the completion rollup: one active stall with
// its counts and the hierarchy it belongs to. StallID is 0 for an object that
// has no active stalls.
type StallCompletion struct {
	StallID      int64     `db:"stall_id"`
	StallName    string    `db:"stall_name"`
	ObjectID     int64     `db:"object_id"`
	ObjectName   string    `db:"object_name"`
	EmployeeID   int64     `db:"employee_id"`
	EmployeeUUID uuid.UUID `db:"employee_uuid"`
	EmployeeName string    `db:"employee_name"`
	DistrictID   int64     `db:"district_id"`
	DistrictName string    `db:"district_name"`
	DistrictCode string    `db:"district_code"`
	RegionID     int64     `db:"region_id"`
	RegionName   string    `db:"region_name"`
	RegionCode   string    `db:"region_code"`
	Total        int       `db:"total"`
	Entered      int       `db:"entered"`
}

// StallProductListing is a stall product joined with its product and the
// observation recorded for it in the current period, if any.
type StallProductListing struct {
	StallProduct
	ProductUUID           uuid.UUID       `db:"product_uuid" json:"product_uuid"`
	ProductName           string          `db:"product_name" json:"product_name"`
	ProductCode           string          `db:"product_code" json:"product_code"`
	CategoryName          string          `db:"category_name" json:"category_name"`
	UnitName              string          `db:"unit_name" json:"unit_name"`
	UnitBaseQuantity      decimal.Decimal `db:"unit_base_quantity" json:"unit_base_quantity"`
	CurrentStatus         *Status         `db:"current_status" json:"current_status,omitempty"`
	CreatedDuringRollover bool            `db:"created_during_rollover" json:"created_during_rollover"`
}
