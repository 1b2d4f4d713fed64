package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/application/port"
	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/garyjia/spend-reconciliation/internal/domain/event"
	"github.com/garyjia/spend-reconciliation/internal/domain/report"
	"github.com/google/uuid"
)

// ReportService generates and reads reconciliation report snapshots
type ReportService interface {
	Generate(ctx context.Context, req ReportRequest, actor string) (*entity.Report, error)
	GetReport(ctx context.Context, id int64) (*entity.Report, error)
	ListReports(ctx context.Context, reportType entity.ReportType, page entity.Page) ([]*entity.Report, error)
	ExportReport(ctx context.Context, id int64, actor string) (*ReportExport, error)
}

// ReportExport is a rendered report document
type ReportExport struct {
	FileName    string
	ContentType string
	Content     []byte
}

// ReportOption configures optional report capabilities
type ReportOption func(*reportServiceImpl)

// WithExports enables ExportReport. Rendered documents are kept in store and
// reused on later exports since snapshots never change.
func WithExports(renderer port.ReportRenderer, store port.FileStore) ReportOption {
	return func(s *reportServiceImpl) {
		s.renderer = renderer
		s.store = store
	}
}

type reportServiceImpl struct {
	batchRepo  port.BatchRepository
	detailRepo port.DetailRepository
	reportRepo port.ReportRepository
	auditRepo  port.AuditRepository
	txManager  port.TransactionManager
	publisher  port.EventPublisher
	renderer   port.ReportRenderer
	store      port.FileStore
	logger     Logger
	now        func() time.Time
}

// NewReportService creates a new ReportService
func NewReportService(
	batchRepo port.BatchRepository,
	detailRepo port.DetailRepository,
	reportRepo port.ReportRepository,
	auditRepo port.AuditRepository,
	txManager port.TransactionManager,
	publisher port.EventPublisher,
	logger Logger,
	opts ...ReportOption,
) ReportService {
	s := &reportServiceImpl{
		batchRepo:  batchRepo,
		detailRepo: detailRepo,
		reportRepo: reportRepo,
		auditRepo:  auditRepo,
		txManager:  txManager,
		publisher:  publisher,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate builds a snapshot of every reportable batch in the period and persists it
func (s *reportServiceImpl) Generate(ctx context.Context, req ReportRequest, actor string) (*entity.Report, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	start, err := time.Parse(entity.DateLayout, req.PeriodStart)
	if err != nil {
		return nil, apperror.Validation("invalid period_start %q", req.PeriodStart)
	}
	end, err := time.Parse(entity.DateLayout, req.PeriodEnd)
	if err != nil {
		return nil, apperror.Validation("invalid period_end %q", req.PeriodEnd)
	}
	if err := report.ValidatePeriod(req.ReportType, start, end); err != nil {
		return nil, err
	}

	scope := entity.ReportScope{ChannelIDs: req.ChannelIDs, ProjectIDs: req.ProjectIDs}
	snapshot := &entity.Report{
		ReportNo:    s.reportNo(req.ReportType),
		ReportType:  req.ReportType,
		PeriodStart: start,
		PeriodEnd:   end,
		Scope:       scope,
		GeneratedBy: actor,
	}

	// Batches and details are read in the same transaction so the snapshot is consistent
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		batches, err := s.batchRepo.ListForPeriod(txCtx, start, end, report.ReportableStatuses)
		if err != nil {
			return err
		}

		ids := make([]int64, 0, len(batches))
		for _, b := range batches {
			ids = append(ids, b.ID)
		}
		var details []*entity.Detail
		if len(ids) > 0 {
			if details, err = s.detailRepo.ListByBatches(txCtx, ids); err != nil {
				return err
			}
		}

		snapshot.Payload, snapshot.Chart = report.Build(batches, details, scope, start, end)

		if err := s.reportRepo.Create(txCtx, snapshot); err != nil {
			return err
		}
		return s.auditRepo.Append(txCtx, &entity.AuditEntry{
			EntityType: entity.AuditEntityReport,
			EntityID:   snapshot.ID,
			Actor:      actor,
			Operation:  entity.AuditOpGenerateReport,
			Payload: encodePayload(map[string]interface{}{
				"report_no":    snapshot.ReportNo,
				"report_type":  snapshot.ReportType,
				"period_start": req.PeriodStart,
				"period_end":   req.PeriodEnd,
			}),
		})
	})
	if err != nil {
		s.logger.Error("Failed to generate report", "error", err, "type", req.ReportType)
		return nil, internalError(ctx, s.auditRepo, s.logger, &entity.AuditEntry{
			EntityType: entity.AuditEntityReport,
			Actor:      actor,
		}, err)
	}

	if s.publisher != nil {
		s.publisher.Publish(ctx, event.NewBatchEvent(event.TypeReportGenerated, 0, actor, map[string]interface{}{
			"report_id":   snapshot.ID,
			"report_no":   snapshot.ReportNo,
			"report_type": string(snapshot.ReportType),
		}))
	}

	s.logger.Info("Report generated",
		"report_id", snapshot.ID,
		"report_no", snapshot.ReportNo,
		"batches", snapshot.Payload.Summary.BatchCount,
		"details", snapshot.Payload.Summary.DetailCount)
	return snapshot, nil
}

// GetReport returns one persisted snapshot
func (s *reportServiceImpl) GetReport(ctx context.Context, id int64) (*entity.Report, error) {
	return s.reportRepo.GetByID(ctx, id)
}

// ListReports returns snapshots, newest first, optionally filtered by type
func (s *reportServiceImpl) ListReports(ctx context.Context, reportType entity.ReportType, page entity.Page) ([]*entity.Report, error) {
	if reportType != "" && !reportType.IsValid() {
		return nil, apperror.Validation("unknown report type %q", reportType)
	}
	return s.reportRepo.List(ctx, reportType, page)
}

// ExportReport renders a snapshot, storing the document on first export
func (s *reportServiceImpl) ExportReport(ctx context.Context, id int64, actor string) (*ReportExport, error) {
	if s.renderer == nil || s.store == nil {
		return nil, apperror.Policy(apperror.CodeExportDisabled, "report export is not configured")
	}

	snapshot, err := s.reportRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	fileName := snapshot.ReportNo + "." + s.renderer.Extension()
	path := fmt.Sprintf("reports/%s/%s", snapshot.PeriodStart.Format("2006-01"), fileName)
	out := &ReportExport{FileName: fileName, ContentType: s.renderer.ContentType()}

	if s.store.Exists(ctx, path) {
		if out.Content, err = s.store.Read(ctx, path); err == nil {
			return out, nil
		}
		s.logger.Error("Failed to read stored export, rendering again", "error", err, "path", path)
	}

	if out.Content, err = s.renderer.Render(snapshot); err != nil {
		return nil, apperror.Internal(err, "failed to render report %s", snapshot.ReportNo)
	}
	if err := s.store.Save(ctx, path, out.Content); err != nil {
		return nil, apperror.Internal(err, "failed to store report export %s", snapshot.ReportNo)
	}

	if err := s.auditRepo.Append(ctx, &entity.AuditEntry{
		EntityType: entity.AuditEntityReport,
		EntityID:   snapshot.ID,
		Actor:      actor,
		Operation:  entity.AuditOpExportReport,
		Payload:    encodePayload(map[string]interface{}{"path": path, "size": len(out.Content)}),
	}); err != nil {
		s.logger.Error("Failed to audit report export", "error", err, "report_id", snapshot.ID)
	}

	s.logger.Info("Report exported", "report_id", snapshot.ID, "path", path, "size", len(out.Content))
	return out, nil
}

func (s *reportServiceImpl) reportNo(t entity.ReportType) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("RR-%s-%s-%s", strings.ToUpper(string(t)), s.now().UTC().Format("20060102150405"), suffix)
}
