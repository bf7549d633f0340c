package kobo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Davronbekjonbek/planshet-back/internal/models"
	"github.com/Davronbekjonbek/planshet-back/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultTimeout = 30 * time.Second
	// SourceName marks events produced from KoBo submissions
	SourceName = "kobo"

	maxPages = 1000
)

// Client reads form submissions from the KoBoToolbox v2 API
type Client struct {
	BaseURL    string
	FormID     string
	HTTPClient *http.Client
	token      string
	logger     *zap.Logger
}

// NewClient creates a KoBo client for one form
func NewClient(baseURL, formID, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		FormID:  formID,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		token:  token,
		logger: util.Named("kobo"),
	}
}

// FetchSubmissions returns every submission of the form, following the
// next links until the last page
func (c *Client) FetchSubmissions(ctx context.Context) ([]Submission, error) {
	url := fmt.Sprintf("%s/api/v2/assets/%s/data.json", c.BaseURL, c.FormID)

	var submissions []Submission
	for page := 0; url != ""; page++ {
		if page >= maxPages {
			return nil, fmt.Errorf("kobo api: more than %d pages", maxPages)
		}

		p, err := c.fetchPage(ctx, url)
		if err != nil {
			return nil, err
		}
		submissions = append(submissions, p.Results...)

		url = ""
		if p.Next != nil {
			url = *p.Next
		}
	}

	c.logger.Debug("Fetched submissions",
		zap.String("form_id", c.FormID),
		zap.Int("count", len(submissions)))

	return submissions, nil
}

func (c *Client) fetchPage(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kobo api error: status %d", resp.StatusCode)
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode kobo page: %w", err)
	}
	return &page, nil
}

// MapSubmission turns a submission into one observation.submitted event per
// answered product. The form has no status question, so every row reports
// the product as available. Rows without a product id or with unreadable
// numbers are skipped and counted, as is every row of a submission that
// names no agent login or stall.
func MapSubmission(sub Submission) (events []models.ObservationSubmittedEvent, skipped int) {
	submissionID := strconv.FormatInt(sub.ID, 10)
	login := strings.TrimSpace(string(sub.Login))
	stallRef := strings.TrimSpace(string(sub.StallID))
	if login == "" || stallRef == "" {
		return nil, len(sub.Products)
	}

	var periodDateID *int64
	if raw := strings.TrimSpace(string(sub.PeriodDateID)); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			periodDateID = &id
		}
	}

	for _, row := range sub.Products {
		productRef := strings.TrimSpace(string(row.ProductID))
		if productRef == "" {
			skipped++
			continue
		}

		price, err1 := parseDecimal(row.Price)
		quantity, err2 := parseDecimal(row.Quantity)
		if err1 != nil || err2 != nil {
			skipped++
			continue
		}

		events = append(events, models.ObservationSubmittedEvent{
			BaseEvent:     models.NewBaseEvent(models.EventTypeObservationSubmitted),
			Source:        SourceName,
			SubmissionID:  submissionID,
			ProductRef:    productRef,
			StallRef:      stallRef,
			EmployeeLogin: login,
			PeriodDateID:  periodDateID,
			Price:         price,
			UnitQuantity:  quantity,
			Status:        string(models.StatusAvailable),
		})
	}
	return events, skipped
}

func parseDecimal(a Answer) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(a))
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(strings.ReplaceAll(s, ",", "."))
}
