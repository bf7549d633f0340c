package models

import "fmt"

// Status is the availability status reported together with a price observation.
type Status string

// Observation statuses
const (
	StatusAvailable              Status = "available"
	StatusDiscounted             Status = "discounted"
	StatusSeasonalUnavailable    Status = "seasonal_unavailable"
	StatusTemporarilyUnavailable Status = "temporarily_unavailable"
	StatusNotSelling             Status = "not_selling"
	StatusObjectClosed           Status = "object_closed"
)

var allStatuses = []Status{
	StatusAvailable,
	StatusDiscounted,
	StatusSeasonalUnavailable,
	StatusTemporarilyUnavailable,
	StatusNotSelling,
	StatusObjectClosed,
}

// AllStatuses returns every status in declaration order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a raw string into a Status, rejecting unknown values.
func ParseStatus(s string) (Status, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// CountsTowardCompletion reports whether an observation with this status counts as
// an informative entry in the default completion rollup.
func (s Status) CountsTowardCompletion() bool {
	return s == StatusAvailable
}

// CarriesOver reports whether observations with this status are copied into the
// next weekly period on rollover.
func (s Status) CarriesOver() bool {
	return s == StatusSeasonalUnavailable || s == StatusTemporarilyUnavailable
}

// NonInformativeStatuses is the default excluded set for completion rollups.
func NonInformativeStatuses() []Status {
	out := make([]Status, 0, len(allStatuses)-1)
	for _, st := range allStatuses {
		if !st.CountsTowardCompletion() {
			out = append(out, st)
		}
	}
	return out
}

// StatusStrings converts statuses to their string form (for SQL array binding).
func StatusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

// Cadence is the reporting rhythm of a period or stall.
type Cadence string

// Cadences
const (
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
)

// ParseCadence converts a raw string into a Cadence.
func ParseCadence(s string) (Cadence, error) {
	switch Cadence(s) {
	case CadenceWeekly, CadenceMonthly:
		return Cadence(s), nil
	}
	return "", fmt.Errorf("unknown cadence %q", s)
}
