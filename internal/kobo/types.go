package kobo

import (
	"bytes"
	"encoding/json"
)

// Answer is a form answer. KoBo sends most answers as strings but numeric
// questions can arrive as bare numbers.
type Answer string

// UnmarshalJSON accepts strings, numbers and null
func (a *Answer) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Answer(s)
		return nil
	}
	*a = Answer(data)
	return nil
}

// Page is one page of the data endpoint
type Page struct {
	Count    int          `json:"count"`
	Next     *string      `json:"next"`
	Previous *string      `json:"previous"`
	Results  []Submission `json:"results"`
}

// Submission is one filled-in price form. The agent logs in on the first
// page, which also carries the period date id, then picks a stall and answers
// a repeat group with one entry per product.
type Submission struct {
	ID             int64           `json:"_id"`
	SubmissionTime string          `json:"_submission_time"`
	Login          Answer          `json:"login_page/login"`
	UserID         Answer          `json:"login_page/user_id"`
	PeriodDateID   Answer          `json:"login_page/period_ok"`
	StallID        Answer          `json:"tochka_page/selected_tochka"`
	Products       []SubmissionRow `json:"tochka_products"`
}

// SubmissionRow is one product answered inside a submission's repeat group
type SubmissionRow struct {
	ProductID   Answer `json:"tochka_products/product_id"`
	ProductName Answer `json:"tochka_products/products_for_tochka/product_name"`
	Price       Answer `json:"tochka_products/products_for_tochka/narx"`
	Quantity    Answer `json:"tochka_products/products_for_tochka/miqdor"`
	UnitPrice   Answer `json:"tochka_products/products_for_tochka/birlik_narx"`
}
