package http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/spend-reconciliation/internal/application/service"
	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
)

const (
	// ActorHeader names the operator performing a request
	ActorHeader = "X-Actor"

	// IdempotencyHeader carries the op_id of detail operations when the body does not
	IdempotencyHeader = "Idempotency-Key"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	batches    service.BatchService
	resolution service.ResolutionService
	reports    service.ReportService
	health     HealthFunc
	logger     Logger
}

// HealthFunc reports overall health plus per-component detail
type HealthFunc func() (healthy bool, components interface{})

// NewHandlers creates a new Handlers instance
func NewHandlers(
	batches service.BatchService,
	resolution service.ResolutionService,
	reports service.ReportService,
	logger Logger,
) *Handlers {
	return &Handlers{
		batches:    batches,
		resolution: resolution,
		reports:    reports,
		logger:     logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody always carries the error kind and its stable code
type ErrorBody struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PageResponse wraps a listing with its total count
type PageResponse struct {
	Items  interface{} `json:"items"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

type pageQuery struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

func (q pageQuery) page() entity.Page {
	return entity.Page{Limit: q.Limit, Offset: q.Offset}.Normalize()
}

type batchQuery struct {
	pageQuery
	Status   string `form:"status"`
	DateFrom string `form:"date_from"`
	DateTo   string `form:"date_to"`
}

type detailQuery struct {
	pageQuery
	MatchStatus    string `form:"match_status"`
	DifferenceType string `form:"difference_type"`
}

type reviewBody struct {
	service.ReviewRequest
	OpID string `json:"op_id"`
}

type adjustBody struct {
	service.AdjustmentRequest
	OpID string `json:"op_id"`
}

type resolveBody struct {
	Reason string `json:"reason"`
	OpID   string `json:"op_id"`
}

type confirmBody struct {
	OpID string `json:"op_id"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	data := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if h.health != nil {
		healthy, components := h.health()
		data["components"] = components
		if !healthy {
			data["status"] = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, Response{Success: status == http.StatusOK, Data: data})
}

// CreateBatch handles POST /api/v1/batches
func (h *Handlers) CreateBatch(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req service.CreateBatchRequest
	if !h.bind(c, &req) {
		return
	}

	batch, err := h.batches.CreateBatch(c.Request.Context(), req, actor)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, http.StatusCreated, batch)
}

// StartBatch handles POST /api/v1/batches/:id/start
func (h *Handlers) StartBatch(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.id(c)
	if !ok {
		return
	}

	batch, err := h.batches.StartBatch(c.Request.Context(), id, actor)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, http.StatusAccepted, batch)
}

// CancelBatch handles POST /api/v1/batches/:id/cancel
func (h *Handlers) CancelBatch(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.id(c)
	if !ok {
		return
	}

	batch, err := h.batches.CancelBatch(c.Request.Context(), id, actor)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, http.StatusOK, batch)
}

// GetBatch handles GET /api/v1/batches/:id
func (h *Handlers) GetBatch(c *gin.Context) {
	id, ok := h.id(c)
	if !ok {
		return
	}

	batch, err := h.batches.GetBatch(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, http.StatusOK, batch)
}

// DeleteBatch handles DELETE /api/v1/batches/:id
func (h *Handlers) DeleteBatch(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.id(c)
	if !ok {
		return
	}

	if err := h.batches.DeleteBatch(c.Request.Context(), id, actor); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListBatches handles GET /api/v1/batches
func (h *Handlers) ListBatches(c *gin.Context) {
	var q batchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.fail(c, apperror.Validation("invalid query parameters: %v", err))
		return
	}

	filter := entity.BatchFilter{Status: entity.BatchStatus(q.Status)}
	var err error
	if filter.DateFrom, err = parseDate("date_from", q.DateFrom); err != nil {
		h.fail(c, err)
		return
	}
	if filter.DateTo, err = parseDate("date_to", q.DateTo); err != nil {
		h.fail(c, err)
		return
	}

	page := q.page()
	batches, total, err := h.batches.ListBatches(c.Request.Context(), filter, page)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, http.StatusOK, PageResponse{Items: batches, Total: total, Limit: page.Limit, Offset: page.Offset})
}

// ListDetails handles GET /api/v1/batches/:id/details
func (h *Handlers) ListDetails(c *gin.Context) {
	id, ok := h.id(c)
	if !ok {
		return
	}
	var q detailQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.fail(c, apperror.Validation("invalid query parameters: %v", err))
		return
	}

	filter := entity.DetailFilter{
		MatchStatus:    entity.MatchStatus(q.MatchStatus),
		DifferenceType: entity.DifferenceType(q.DifferenceType),
	}
	page := q.page()
	details, total, err := h.batches.ListDetails(c.Request.Context(), id, filter, page)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, http.StatusOK, PageResponse{Items: details, Total: total, Limit: page.Limit, Offset: page.Offset})
}

// ListAuditEntries handles GET /api/v1/batches/:id/audit
func (h *Handlers) ListAuditEntries(c *gin.Context) {
	id, ok := h.id(c)
	if !ok {
		return
	}
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.fail(c, apperror.Validation("invalid query parameters: %v", err))
		return
	}

	entries, err := h.batches.ListAuditEntries(c.Request.Context(), id, q.page())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, http.StatusOK, entries)
}

// GetDetail handles GET /api/v1/details/:id
func (h *Handlers) GetDetail(c *gin.Context) {
	id, ok := h.id(c)
	if !ok {
		return
	}

	detail, err := h.resolution.GetDetail(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, http.StatusOK, detail)
}

// ListAdjustments handles GET /api/v1/details/:id/adjustments
func (h *Handlers) ListAdjustments(c *gin.Context) {
	id, ok := h.id(c)
	if !ok {
		return
	}

	adjustments, err := h.resolution.ListAdjustments(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, http.StatusOK, adjustments)
}

// ReviewDetail handles POST /api/v1/details/:id/review
func (h *Handlers) ReviewDetail(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.id(c)
	if !ok {
		return
	}
	var body reviewBody
	if !h.bind(c, &body) {
		return
	}

	result, err := h.resolution.Review(c.Request.Context(), id, body.ReviewRequest, actor, h.opID(c, body.OpID))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, http.StatusOK, result)
}

// AdjustDetail handles POST /api/v1/details/:id/adjustments
func (h *Handlers) AdjustDetail(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.id(c)
	if !ok {
		return
	}
	var body adjustBody
	if !h.bind(c, &body) {
		return
	}

	result, err := h.resolution.Adjust(c.Request.Context(), id, body.AdjustmentRequest, actor, h.opID(c, body.OpID))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, http.StatusCreated, result)
}

// ResolveDetail handles POST /api/v1/details/:id/resolve
func (h *Handlers) ResolveDetail(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.id(c)
	if !ok {
		return
	}
	var body resolveBody
	if !h.bind(c, &body) {
		return
	}

	result, err := h.resolution.ResolveWithoutAdjustment(c.Request.Context(), id, body.Reason, actor, h.opID(c, body.OpID))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, http.StatusOK, result)
}

// FinanceConfirm handles POST /api/v1/adjustments/:id/confirm
func (h *Handlers) FinanceConfirm(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.id(c)
	if !ok {
		return
	}
	var body confirmBody
	if c.Request.ContentLength > 0 && !h.bind(c, &body) {
		return
	}

	result, err := h.resolution.FinanceConfirm(c.Request.Context(), id, actor, h.opID(c, body.OpID))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, http.StatusOK, result)
}

// GenerateReport handles POST /api/v1/reports
func (h *Handlers) GenerateReport(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req service.ReportRequest
	if !h.bind(c, &req) {
		return
	}

	report, err := h.reports.Generate(c.Request.Context(), req, actor)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, http.StatusCreated, report)
}

// GetReport handles GET /api/v1/reports/:id
func (h *Handlers) GetReport(c *gin.Context) {
	id, ok := h.id(c)
	if !ok {
		return
	}

	report, err := h.reports.GetReport(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, http.StatusOK, report)
}

// ListReports handles GET /api/v1/reports
func (h *Handlers) ListReports(c *gin.Context) {
	var q struct {
		pageQuery
		Type string `form:"type"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		h.fail(c, apperror.Validation("invalid query parameters: %v", err))
		return
	}

	reports, err := h.reports.ListReports(c.Request.Context(), entity.ReportType(q.Type), q.page())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.ok(c, http.StatusOK, reports)
}

// ExportReport handles GET /api/v1/reports/:id/export
func (h *Handlers) ExportReport(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.id(c)
	if !ok {
		return
	}

	doc, err := h.reports.ExportReport(c.Request.Context(), id, actor)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.FileName))
	c.Data(http.StatusOK, doc.ContentType, doc.Content)
}

func (h *Handlers) actor(c *gin.Context) (string, bool) {
	actor := strings.TrimSpace(c.GetHeader(ActorHeader))
	if actor == "" {
		h.fail(c, apperror.Validation("%s header is required", ActorHeader))
		return "", false
	}
	return actor, true
}

func (h *Handlers) id(c *gin.Context) (int64, bool) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.fail(c, apperror.Validation("invalid id %q", raw))
		return 0, false
	}
	return id, true
}

func (h *Handlers) bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.fail(c, apperror.Validation("invalid request body: %v", err))
		return false
	}
	return true
}

func (h *Handlers) opID(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return c.GetHeader(IdempotencyHeader)
}

func (h *Handlers) ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

func (h *Handlers) fail(c *gin.Context, err error) {
	appErr, ok := apperror.As(err)
	if !ok {
		appErr = apperror.Internal(err, "unexpected error")
	}

	status := statusFor(appErr.Kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "path", c.FullPath(), "error", err)
	}

	c.AbortWithStatusJSON(status, Response{
		Success: false,
		Error: &ErrorBody{
			Kind:    string(appErr.Kind),
			Code:    appErr.Code,
			Message: appErr.Message,
		},
	})
}

func statusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.KindValidation:
		return http.StatusBadRequest
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindConflict, apperror.KindBatchNotReviewable:
		return http.StatusConflict
	case apperror.KindPolicyViolation:
		return http.StatusUnprocessableEntity
	case apperror.KindExternalTransient:
		return http.StatusServiceUnavailable
	case apperror.KindExternalPermanent:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func parseDate(field, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(entity.DateLayout, raw)
	if err != nil {
		return nil, apperror.Validation("invalid %s %q", field, raw)
	}
	return &t, nil
}
