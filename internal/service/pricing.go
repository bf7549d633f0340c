package service

import (
	"github.com/Davronbekjonbek/planshet-back/internal/models"

	"github.com/shopspring/decimal"
)

// Trend values reported for a stall product against the current period
const (
	TrendUnknown     = "unknown"
	TrendUnavailable = "unavailable"
	TrendIncreased   = "increased"
	TrendDecreased   = "decreased"
	TrendUnchanged   = "unchanged"
)

// ApplyObservation returns the cache state after recording price:
// previous takes the old last price and last becomes price.
func ApplyObservation(sp models.StallProduct, price decimal.Decimal) models.StallProduct {
	sp.PreviousPrice = sp.LastPrice
	sp.LastPrice = price
	return sp
}

// ApplyRollover returns the cache state after a carried-over observation:
// previous takes the old last price and last drops to zero.
func ApplyRollover(sp models.StallProduct) models.StallProduct {
	return ApplyObservation(sp, decimal.Zero)
}

// UnitPrice normalises price to the unit's base quantity, rounded to 2 dp.
// A zero quantity leaves the price as is; a zero base quantity counts as 1.
func UnitPrice(price, quantity, baseQuantity decimal.Decimal) decimal.Decimal {
	if quantity.IsZero() {
		return price.Round(2)
	}
	if baseQuantity.IsZero() {
		baseQuantity = decimal.NewFromInt(1)
	}
	return price.Div(quantity).Mul(baseQuantity).Round(2)
}

type productStall struct {
	productID int64
	stallID   int64
}

// SelectCarryForward keeps one candidate per (product, stall): the most
// recent observation, ties broken by the higher observation id. The result
// keeps the order in which each pair was first seen.
func SelectCarryForward(candidates []models.CarryCandidate) []models.CarryCandidate {
	index := make(map[productStall]int, len(candidates))
	out := make([]models.CarryCandidate, 0, len(candidates))

	for _, c := range candidates {
		if !c.Status.CarriesOver() {
			continue
		}
		key := productStall{c.ProductID, c.StallID}
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, c)
			continue
		}
		cur := out[i]
		if c.ObservedAt.After(cur.ObservedAt) ||
			(c.ObservedAt.Equal(cur.ObservedAt) && c.ObservationID > cur.ObservationID) {
			out[i] = c
		}
	}
	return out
}

// CarriedObservation builds the zero-priced ledger row seeding periodDateID
// from a previous period's unresolved observation.
func CarriedObservation(c models.CarryCandidate, periodDateID int64) models.PriceObservation {
	return models.PriceObservation{
		ProductID:             c.ProductID,
		StallID:               c.StallID,
		ObjectID:              c.ObjectID,
		StallProductID:        c.StallProductID,
		EmployeeID:            c.EmployeeID,
		PeriodDateID:          periodDateID,
		Price:                 decimal.Zero,
		UnitQuantity:          c.Quantity,
		UnitPrice:             decimal.Zero,
		Status:                c.Status,
		IsActive:              true,
		CreatedDuringRollover: true,
	}
}

// Trend compares the cached prices of a stall product. status is the
// observation recorded in the current period, nil when there is none.
func Trend(sp models.StallProduct, status *models.Status) string {
	if status == nil {
		return TrendUnknown
	}
	if *status == models.StatusNotSelling {
		return TrendUnavailable
	}
	switch sp.LastPrice.Cmp(sp.PreviousPrice) {
	case 1:
		return TrendIncreased
	case -1:
		return TrendDecreased
	default:
		return TrendUnchanged
	}
}
