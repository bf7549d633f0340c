package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Davronbekjonbek/planshet-back/internal/models"
	"github.com/Davronbekjonbek/planshet-back/internal/service"
	"github.com/Davronbekjonbek/planshet-back/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// UserHeader carries the calling agent's uuid from the mobile client
const UserHeader = "X-User-UUID"

// ObservationService records price observations
type ObservationService interface {
	RecordObservation(ctx context.Context, req *service.RecordObservationRequest) (*service.RecordObservationResult, error)
	RecordBatch(ctx context.Context, reqs []service.RecordObservationRequest) *service.BatchResult
}

// RollupService computes completion reports
type RollupService interface {
	Compute(ctx context.Context, q service.RollupQuery) (*service.RollupReport, error)
}

// PeriodService administers periods
type PeriodService interface {
	CreatePeriod(ctx context.Context, name string, cadence models.Cadence, active bool) (*models.Period, error)
	CreatePeriodDate(ctx context.Context, periodID int64, date time.Time) (*models.PeriodDate, error)
	ListPeriodDates(ctx context.Context, periodID int64) ([]models.PeriodDate, error)
}

// PeriodClock resolves today's period date
type PeriodClock interface {
	Current(ctx context.Context, cadence models.Cadence) (*models.PeriodDate, error)
}

// CatalogService manages stall products
type CatalogService interface {
	ListStallProducts(ctx context.Context, stallRef, cadence string) (*service.StallProductsResult, error)
	AssignProducts(ctx context.Context, stallID int64, productIDs []int64) (int64, error)
	RemoveProduct(ctx context.Context, stallID, productID int64) error
	SetObservationFlags(ctx context.Context, id int64, checked, active *bool) (*models.PriceObservation, error)
}

// Pinger is a dependency checked by the readiness endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services groups what the handler serves
type Services struct {
	Ledger  ObservationService
	Rollup  RollupService
	Periods PeriodService
	Clock   PeriodClock
	Catalog CatalogService
	// Readiness lists dependencies by name
	Readiness map[string]Pinger
}

// Handler contains HTTP handlers
type Handler struct {
	svc    Services
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services) *Handler {
	return &Handler{
		svc:    svc,
		logger: util.Named("api"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/observations", h.recordObservation)
		v1.POST("/observations/batch", h.recordBatch)
		v1.PATCH("/observations/:id/flags", h.setObservationFlags)

		v1.GET("/rollup", h.rollup)

		v1.GET("/periods/current", h.currentPeriod)
		v1.POST("/periods", h.createPeriod)
		v1.POST("/periods/:id/dates", h.createPeriodDate)
		v1.GET("/periods/:id/dates", h.listPeriodDates)

		v1.GET("/stalls/:stall/products", h.listStallProducts)
		v1.POST("/stalls/:stall/products", h.assignProducts)
		v1.DELETE("/stalls/:stall/products/:product_id", h.removeProduct)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failing := gin.H{}
	for name, p := range h.svc.Readiness {
		if err := p.Ping(ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not_ready",
			"failing": failing,
			"time":    time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// respondError maps service errors onto status codes
func (h *Handler) respondError(c *gin.Context, err error) {
	var e *service.Error
	if !errors.As(err, &e) {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "internal server error",
			"code":  "internal",
		})
		return
	}

	status := http.StatusInternalServerError
	switch e.Kind {
	case service.KindValidation, service.KindConflict:
		status = http.StatusBadRequest
	case service.KindNotFound:
		status = http.StatusNotFound
	case service.KindPreconditionFailed:
		status = http.StatusPreconditionFailed
	}

	body := gin.H{
		"error": e.Error(),
		"code":  string(e.Kind),
	}
	if e.Field != "" {
		body["field"] = e.Field
	}
	if e.Key != "" {
		body["key"] = e.Key
	}
	c.JSON(status, body)
}

func (h *Handler) badBody(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"code":    string(service.KindValidation),
		"field":   "body",
		"details": err.Error(),
	})
}

func (h *Handler) idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		h.respondError(c, service.Invalid(name, "must be a positive integer"))
		return 0, false
	}
	return id, true
}

// recordObservation handles a single price observation
func (h *Handler) recordObservation(c *gin.Context) {
	var req service.RecordObservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}

	if req.EmployeeRef == "" && req.EmployeeLogin == "" {
		req.EmployeeRef = c.GetHeader(UserHeader)
	}

	result, err := h.svc.Ledger.RecordObservation(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// recordBatch handles bulk imports; row failures are reported, not fatal
func (h *Handler) recordBatch(c *gin.Context) {
	var reqs []service.RecordObservationRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		h.badBody(c, err)
		return
	}

	user := c.GetHeader(UserHeader)
	for i := range reqs {
		if reqs[i].EmployeeRef == "" && reqs[i].EmployeeLogin == "" {
			reqs[i].EmployeeRef = user
		}
	}

	c.JSON(http.StatusOK, h.svc.Ledger.RecordBatch(c.Request.Context(), reqs))
}

type flagsRequest struct {
	IsChecked *bool `json:"is_checked"`
	IsActive  *bool `json:"is_active"`
}

// setObservationFlags handles admin review flags
func (h *Handler) setObservationFlags(c *gin.Context) {
	id, ok := h.idParam(c, "id")
	if !ok {
		return
	}

	var req flagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}

	obs, err := h.svc.Catalog.SetObservationFlags(c.Request.Context(), id, req.IsChecked, req.IsActive)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, obs)
}

// parseStatuses reads a comma separated status list; the key may repeat
func parseStatuses(values []string, field string) ([]models.Status, error) {
	statuses := []models.Status{}
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			st, err := models.ParseStatus(part)
			if err != nil {
				return nil, service.Invalid(field, err.Error())
			}
			statuses = append(statuses, st)
		}
	}
	return statuses, nil
}

// rollup handles completion reports
func (h *Handler) rollup(c *gin.Context) {
	q := service.RollupQuery{Scope: service.RollupScope(c.Query("scope"))}

	if raw := c.Query("scope_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.respondError(c, service.Invalid("scope_id", "must be an integer"))
			return
		}
		q.ScopeID = id
	}

	if raw := c.Query("period_date_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.respondError(c, service.Invalid("period_date_id", "must be an integer"))
			return
		}
		q.PeriodDateID = &id
	}

	if values := c.QueryArray("status"); len(values) > 0 {
		statuses, err := parseStatuses(values, "status")
		if err != nil {
			h.respondError(c, err)
			return
		}
		q.Statuses = statuses
	}

	// present but empty excludes nothing; absent keeps the default
	if values, ok := c.GetQueryArray("excluded"); ok {
		excluded, err := parseStatuses(values, "excluded")
		if err != nil {
			h.respondError(c, err)
			return
		}
		q.Excluded = excluded
	}

	report, err := h.svc.Rollup.Compute(c.Request.Context(), q)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// currentPeriod returns today's period date for a cadence
func (h *Handler) currentPeriod(c *gin.Context) {
	cadence, err := models.ParseCadence(c.DefaultQuery("cadence", string(models.CadenceWeekly)))
	if err != nil {
		h.respondError(c, service.Invalid("cadence", err.Error()))
		return
	}

	pd, err := h.svc.Clock.Current(c.Request.Context(), cadence)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, pd)
}

type createPeriodRequest struct {
	Name     string `json:"name"`
	Cadence  string `json:"cadence"`
	IsActive *bool  `json:"is_active"`
}

// createPeriod handles period creation
func (h *Handler) createPeriod(c *gin.Context) {
	var req createPeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	period, err := h.svc.Periods.CreatePeriod(c.Request.Context(), req.Name, models.Cadence(req.Cadence), active)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, period)
}

type createPeriodDateRequest struct {
	Date string `json:"date"`
}

// createPeriodDate handles adding a date to a period
func (h *Handler) createPeriodDate(c *gin.Context) {
	periodID, ok := h.idParam(c, "id")
	if !ok {
		return
	}

	var req createPeriodDateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		h.respondError(c, service.Invalid("date", "must be YYYY-MM-DD"))
		return
	}

	pd, err := h.svc.Periods.CreatePeriodDate(c.Request.Context(), periodID, date)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, pd)
}

// listPeriodDates handles listing a period's dates
func (h *Handler) listPeriodDates(c *gin.Context) {
	periodID, ok := h.idParam(c, "id")
	if !ok {
		return
	}

	dates, err := h.svc.Periods.ListPeriodDates(c.Request.Context(), periodID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"period_dates": dates})
}

// listStallProducts handles the agent's product list for a stall
func (h *Handler) listStallProducts(c *gin.Context) {
	result, err := h.svc.Catalog.ListStallProducts(c.Request.Context(), c.Param("stall"), c.Query("cadence"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type assignProductsRequest struct {
	ProductIDs []int64 `json:"product_ids"`
}

// assignProducts handles stall product assignment
func (h *Handler) assignProducts(c *gin.Context) {
	stallID, ok := h.idParam(c, "stall")
	if !ok {
		return
	}

	var req assignProductsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badBody(c, err)
		return
	}

	n, err := h.svc.Catalog.AssignProducts(c.Request.Context(), stallID, req.ProductIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"assigned": n})
}

// removeProduct handles soft removal of a stall product
func (h *Handler) removeProduct(c *gin.Context) {
	stallID, ok := h.idParam(c, "stall")
	if !ok {
		return
	}
	productID, ok := h.idParam(c, "product_id")
	if !ok {
		return
	}

	if err := h.svc.Catalog.RemoveProduct(c.Request.Context(), stallID, productID); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
