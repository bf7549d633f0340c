package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeObservationSubmitted = "OBSERVATION_SUBMITTED"
	EventTypeObservationRecorded  = "OBSERVATION_RECORDED"
	EventTypeRolloverRequested    = "ROLLOVER_REQUESTED"
	EventTypeRolloverCompleted    = "ROLLOVER_COMPLETED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event id and the current time
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// ObservationSubmittedEvent carries a producer's raw submission (KoBo poller,
// bulk importers) onto the ingestion topic.
type ObservationSubmittedEvent struct {
	BaseEvent
	Source        string           `json:"source"`
	SubmissionID  string           `json:"submission_id,omitempty"`
	ProductRef    string           `json:"product_ref"`
	StallRef      string           `json:"stall_ref"`
	EmployeeRef   string           `json:"employee_ref,omitempty"`
	EmployeeLogin string           `json:"employee_login,omitempty"`
	Cadence       string           `json:"period_cadence,omitempty"`
	PeriodDateID  *int64           `json:"period_date_id,omitempty"`
	Price         decimal.Decimal  `json:"price"`
	UnitQuantity  decimal.Decimal  `json:"unit_quantity"`
	Status        string           `json:"status"`
	Alternative   *AlternativeData `json:"alternative,omitempty"`
}

// AlternativeData describes a substitute product reported with a not-selling item.
type AlternativeData struct {
	ProductRef string          `json:"product_ref"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
}

// ObservationRecordedEvent published after an observation and its cache update commit
type ObservationRecordedEvent struct {
	BaseEvent
	ObservationID int64           `json:"observation_id"`
	ProductID     int64           `json:"product_id"`
	StallID       int64           `json:"stall_id"`
	PeriodDateID  int64           `json:"period_date_id"`
	Status        Status          `json:"status"`
	Price         decimal.Decimal `json:"price"`
	PreviousPrice decimal.Decimal `json:"previous_price"`
	IsAlternative bool            `json:"is_alternative"`
}

// RolloverRequestedEvent published when a weekly period receives its first date
type RolloverRequestedEvent struct {
	BaseEvent
	PeriodDateID int64     `json:"period_date_id"`
	PeriodID     int64     `json:"period_id"`
	Date         time.Time `json:"date"`
}

// RolloverCompletedEvent published by the rollover worker
type RolloverCompletedEvent struct {
	BaseEvent
	PeriodDateID   int64  `json:"period_date_id"`
	SourcePeriodID int64  `json:"source_period_id,omitempty"`
	Carried        int    `json:"carried"`
	Skipped        int    `json:"skipped"`
	Failed         int    `json:"failed"`
	SkipReason     string `json:"skip_reason,omitempty"`
}
