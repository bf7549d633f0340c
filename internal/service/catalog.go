package service

import (
	"context"
	"fmt"

	"github.com/Davronbekjonbek/planshet-back/internal/models"
	"github.com/Davronbekjonbek/planshet-back/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CatalogRepository is the persistence the stall catalogue needs
type CatalogRepository interface {
	GetStallByUUID(ctx context.Context, id uuid.UUID) (*models.Stall, error)
	GetStallByID(ctx context.Context, id int64) (*models.Stall, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	ListStallProducts(ctx context.Context, stallID, periodDateID int64) ([]models.StallProductListing, error)
	UpsertStallProducts(ctx context.Context, stallID int64, productIDs []int64, isWeekly bool) (int64, error)
	RemoveStallProduct(ctx context.Context, stallID, productID int64) error
	UpdateObservationFlags(ctx context.Context, id int64, checked, active *bool) (*models.PriceObservation, error)
}

// CatalogService manages which products a stall tracks
type CatalogService struct {
	repo   CatalogRepository
	clock  CurrentPeriodResolver
	logger *zap.Logger
}

// NewCatalogService creates a new catalogue service
func NewCatalogService(repo CatalogRepository, clock CurrentPeriodResolver) *CatalogService {
	return &CatalogService{
		repo:   repo,
		clock:  clock,
		logger: util.GetLogger(),
	}
}

// StallProductView is a stall product with its trend in the current period.
// A product not yet priced this period shows a zero last price and its
// cached last price as the previous one.
type StallProductView struct {
	models.StallProductListing
	Trend string `json:"trend"`
}

// StallProductsResult is the answer to ListStallProducts
type StallProductsResult struct {
	Stall        *models.Stall      `json:"stall"`
	PeriodDateID *int64             `json:"period_date_id,omitempty"`
	Products     []StallProductView `json:"products"`
}

// ListStallProducts lists a stall's tracked products with cache prices and a
// trend. stallRef is a UUID or a numeric id. cadence defaults to the stall's
// own; with no active period every product's trend is unknown.
func (s *CatalogService) ListStallProducts(ctx context.Context, stallRef, cadence string) (_ *StallProductsResult, err error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListStallProducts")
	defer func() { util.EndSpan(span, err) }()

	ref, err := parseRef("stall_ref", stallRef)
	if err != nil {
		return nil, err
	}
	var stall *models.Stall
	if ref.id != 0 {
		stall, err = s.repo.GetStallByID(ctx, ref.id)
	} else {
		stall, err = s.repo.GetStallByUUID(ctx, ref.uuid)
	}
	if err != nil {
		return nil, resolveErr(err, "stall_ref")
	}

	c := stall.Cadence
	if cadence != "" {
		if c, err = models.ParseCadence(cadence); err != nil {
			return nil, Invalid("cadence", err.Error())
		}
	}

	result := &StallProductsResult{Stall: stall, Products: []StallProductView{}}

	var periodDateID int64
	pd, err := s.clock.Current(ctx, c)
	switch {
	case err == nil:
		periodDateID = pd.ID
		result.PeriodDateID = &pd.ID
	case IsKind(err, KindPreconditionFailed):
		s.logger.Debug("No active period, trends unknown",
			zap.String("stall_ref", stallRef),
			zap.String("cadence", string(c)))
	default:
		return nil, err
	}

	listings, err := s.repo.ListStallProducts(ctx, stall.ID, periodDateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stall products: %w", err)
	}

	for _, l := range listings {
		view := StallProductView{
			StallProductListing: l,
			Trend:               Trend(l.StallProduct, l.CurrentStatus),
		}
		if l.CurrentStatus == nil {
			view.PreviousPrice = l.LastPrice
			view.LastPrice = decimal.Zero
		}
		result.Products = append(result.Products, view)
	}
	return result, nil
}

// AssignProducts starts tracking products on a stall, restoring removed
// assignments. Monthly stalls only accept their declared product categories.
func (s *CatalogService) AssignProducts(ctx context.Context, stallID int64, productIDs []int64) (_ int64, err error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.AssignProducts")
	defer func() { util.EndSpan(span, err) }()

	if len(productIDs) == 0 {
		return 0, Invalid("product_ids", "is required")
	}

	stall, err := s.repo.GetStallByID(ctx, stallID)
	if err != nil {
		return 0, resolveErr(err, "stall_id")
	}

	unique := make([]int64, 0, len(productIDs))
	seen := make(map[int64]bool, len(productIDs))
	for _, id := range productIDs {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	products, err := s.repo.GetProductsByIDs(ctx, unique)
	if err != nil {
		return 0, fmt.Errorf("failed to load products: %w", err)
	}
	if len(products) != len(unique) {
		found := make(map[int64]bool, len(products))
		for _, p := range products {
			found[p.ID] = true
		}
		for _, id := range unique {
			if !found[id] {
				return 0, NotFound(fmt.Sprintf("product_ids[%d]", id))
			}
		}
	}
	for _, p := range products {
		if !stall.AcceptsCategory(p.CategoryCode) {
			return 0, Invalid("product_ids",
				fmt.Sprintf("product %d (category %s) is not sold at stall %d", p.ID, p.CategoryCode, stall.ID))
		}
	}

	n, err := s.repo.UpsertStallProducts(ctx, stall.ID, unique, stall.Cadence == models.CadenceWeekly)
	if err != nil {
		return 0, err
	}

	s.logger.Info("Products assigned to stall",
		zap.Int64("stall_id", stall.ID),
		zap.Int("products", len(unique)))

	return n, nil
}

// RemoveProduct soft-removes a product from a stall; its history stays
func (s *CatalogService) RemoveProduct(ctx context.Context, stallID, productID int64) error {
	if err := s.repo.RemoveStallProduct(ctx, stallID, productID); err != nil {
		return resolveErr(err, "product_id")
	}
	s.logger.Info("Product removed from stall",
		zap.Int64("stall_id", stallID),
		zap.Int64("product_id", productID))
	return nil
}

// SetObservationFlags updates the review flags of an observation, the only
// change a ledger row ever accepts
func (s *CatalogService) SetObservationFlags(ctx context.Context, id int64, checked, active *bool) (*models.PriceObservation, error) {
	if checked == nil && active == nil {
		return nil, Invalid("is_checked", "one of is_checked or is_active is required")
	}
	obs, err := s.repo.UpdateObservationFlags(ctx, id, checked, active)
	if err != nil {
		return nil, resolveErr(err, "id")
	}
	return obs, nil
}
