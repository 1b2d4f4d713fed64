package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/application/port"
	"github.com/garyjia/spend-reconciliation/internal/application/workflow"
	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/garyjia/spend-reconciliation/internal/domain/matcher"
	"github.com/garyjia/spend-reconciliation/pkg/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BatchDefaults are applied to batches created without explicit tolerances
type BatchDefaults struct {
	ToleranceAbs        decimal.Decimal
	ToleranceRel        decimal.Decimal
	ConfidenceThreshold decimal.Decimal
}

// BatchService manages reconciliation batches
type BatchService interface {
	CreateBatch(ctx context.Context, req CreateBatchRequest, actor string) (*entity.Batch, error)
	StartBatch(ctx context.Context, id int64, actor string) (*entity.Batch, error)
	CancelBatch(ctx context.Context, id int64, actor string) (*entity.Batch, error)
	GetBatch(ctx context.Context, id int64) (*entity.Batch, error)
	ListBatches(ctx context.Context, filter entity.BatchFilter, page entity.Page) ([]*entity.Batch, int, error)
	ListDetails(ctx context.Context, batchID int64, filter entity.DetailFilter, page entity.Page) ([]*entity.Detail, int, error)
	ListAuditEntries(ctx context.Context, batchID int64, page entity.Page) ([]*entity.AuditEntry, error)
	DeleteBatch(ctx context.Context, id int64, actor string) error
}

type batchServiceImpl struct {
	batchRepo    port.BatchRepository
	detailRepo   port.DetailRepository
	auditRepo    port.AuditRepository
	txManager    port.TransactionManager
	orchestrator workflow.Orchestrator
	defaults     BatchDefaults
	logger       Logger
	now          func() time.Time
}

// NewBatchService creates a new BatchService
func NewBatchService(
	batchRepo port.BatchRepository,
	detailRepo port.DetailRepository,
	auditRepo port.AuditRepository,
	txManager port.TransactionManager,
	orchestrator workflow.Orchestrator,
	defaults BatchDefaults,
	logger Logger,
) BatchService {
	return &batchServiceImpl{
		batchRepo:    batchRepo,
		detailRepo:   detailRepo,
		auditRepo:    auditRepo,
		txManager:    txManager,
		orchestrator: orchestrator,
		defaults:     defaults,
		logger:       logger,
		now:          time.Now,
	}
}

// CreateBatch validates the request and stores a pending batch
func (s *batchServiceImpl) CreateBatch(ctx context.Context, req CreateBatchRequest, actor string) (*entity.Batch, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	date, err := time.Parse(entity.DateLayout, req.ReconciliationDate)
	if err != nil {
		return nil, apperror.Validation("invalid reconciliation_date %q", req.ReconciliationDate)
	}

	tolerance := entity.Tolerance{
		Absolute:            pick(req.ToleranceAbs, s.defaults.ToleranceAbs),
		Relative:            pick(req.ToleranceRel, s.defaults.ToleranceRel),
		ConfidenceThreshold: pick(req.ConfidenceThreshold, s.defaults.ConfidenceThreshold),
	}
	if err := matcher.ValidatePolicy(tolerance); err != nil {
		return nil, err
	}

	batch := &entity.Batch{
		BatchNo:            s.batchNo(),
		ReconciliationDate: date,
		Status:             entity.BatchStatusPending,
		Scope: entity.BatchScope{
			ChannelIDs: req.ChannelIDs,
			ProjectIDs: req.ProjectIDs,
		},
		ReportingCurrency: req.ReportingCurrency,
		Tolerance:         tolerance,
		CreatedBy:         actor,
		Notes:             utils.SanitizeString(req.Notes),
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.batchRepo.Create(txCtx, batch); err != nil {
			return err
		}
		return s.auditRepo.Append(txCtx, &entity.AuditEntry{
			EntityType:  entity.AuditEntityBatch,
			EntityID:    batch.ID,
			BatchID:     batch.ID,
			Actor:       actor,
			Operation:   entity.AuditOpCreateBatch,
			AfterStatus: string(entity.BatchStatusPending),
			Payload: encodePayload(map[string]interface{}{
				"reconciliation_date": req.ReconciliationDate,
				"channel_ids":         req.ChannelIDs,
				"project_ids":         req.ProjectIDs,
			}),
		})
	})
	if err != nil {
		s.logger.Error("Failed to create batch", "error", err, "date", req.ReconciliationDate)
		return nil, internalError(ctx, s.auditRepo, s.logger, &entity.AuditEntry{
			EntityType: entity.AuditEntityBatch,
			Actor:      actor,
		}, err)
	}

	s.logger.Info("Batch created", "batch_id", batch.ID, "batch_no", batch.BatchNo, "date", batch.DateString())
	return batch, nil
}

// StartBatch moves a pending batch to processing; completion is asynchronous
func (s *batchServiceImpl) StartBatch(ctx context.Context, id int64, actor string) (*entity.Batch, error) {
	batch, err := s.orchestrator.Start(ctx, id, actor)
	if err != nil {
		s.logger.Error("Failed to start batch", "error", err, "batch_id", id)
		return nil, s.classify(ctx, id, actor, err)
	}
	return batch, nil
}

// CancelBatch stops a processing batch
func (s *batchServiceImpl) CancelBatch(ctx context.Context, id int64, actor string) (*entity.Batch, error) {
	batch, err := s.orchestrator.Cancel(ctx, id, actor)
	if err != nil {
		s.logger.Error("Failed to cancel batch", "error", err, "batch_id", id)
		return nil, s.classify(ctx, id, actor, err)
	}
	return batch, nil
}

// GetBatch returns a batch with its counters and sums
func (s *batchServiceImpl) GetBatch(ctx context.Context, id int64) (*entity.Batch, error) {
	return s.batchRepo.GetByID(ctx, id)
}

// ListBatches returns one page of batches plus the total count
func (s *batchServiceImpl) ListBatches(ctx context.Context, filter entity.BatchFilter, page entity.Page) ([]*entity.Batch, int, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, 0, apperror.Validation("unknown batch status %q", filter.Status)
	}
	if filter.DateFrom != nil && filter.DateTo != nil && filter.DateTo.Before(*filter.DateFrom) {
		return nil, 0, apperror.Validation("date_to is before date_from")
	}
	return s.batchRepo.List(ctx, filter, page)
}

// ListDetails returns one page of a batch's details plus the total count
func (s *batchServiceImpl) ListDetails(ctx context.Context, batchID int64, filter entity.DetailFilter, page entity.Page) ([]*entity.Detail, int, error) {
	if filter.MatchStatus != "" && !filter.MatchStatus.IsValid() {
		return nil, 0, apperror.Validation("unknown match status %q", filter.MatchStatus)
	}
	if filter.DifferenceType != "" && !filter.DifferenceType.IsValid() {
		return nil, 0, apperror.Validation("unknown difference type %q", filter.DifferenceType)
	}
	if _, err := s.batchRepo.GetByID(ctx, batchID); err != nil {
		return nil, 0, err
	}
	return s.detailRepo.List(ctx, batchID, filter, page)
}

// ListAuditEntries returns the audit trail of a batch, oldest first
func (s *batchServiceImpl) ListAuditEntries(ctx context.Context, batchID int64, page entity.Page) ([]*entity.AuditEntry, error) {
	if _, err := s.batchRepo.GetByID(ctx, batchID); err != nil {
		return nil, err
	}
	return s.auditRepo.ListByBatch(ctx, batchID, page)
}

// DeleteBatch removes a batch that never produced details
func (s *batchServiceImpl) DeleteBatch(ctx context.Context, id int64, actor string) error {
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		batch, err := s.batchRepo.GetByID(txCtx, id)
		if err != nil {
			return err
		}
		if batch.Status == entity.BatchStatusProcessing {
			return apperror.Conflict(apperror.CodeBatchAlreadyRunning, "batch %d is processing", id)
		}

		n, err := s.detailRepo.CountByBatch(txCtx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperror.Policy(apperror.CodeBatchHasDetails, "batch %d has %d details and cannot be deleted", id, n)
		}

		if err := s.batchRepo.Delete(txCtx, id); err != nil {
			return err
		}
		return s.auditRepo.Append(txCtx, &entity.AuditEntry{
			EntityType:   entity.AuditEntityBatch,
			EntityID:     id,
			BatchID:      id,
			Actor:        actor,
			Operation:    entity.AuditOpDeleteBatch,
			BeforeStatus: string(batch.Status),
			Payload:      encodePayload(map[string]interface{}{"batch_no": batch.BatchNo}),
		})
	})
	if err != nil {
		s.logger.Error("Failed to delete batch", "error", err, "batch_id", id)
		return s.classify(ctx, id, actor, err)
	}

	s.logger.Info("Batch deleted", "batch_id", id, "actor", actor)
	return nil
}

func (s *batchServiceImpl) classify(ctx context.Context, batchID int64, actor string, err error) error {
	return internalError(ctx, s.auditRepo, s.logger, &entity.AuditEntry{
		EntityType: entity.AuditEntityBatch,
		EntityID:   batchID,
		BatchID:    batchID,
		Actor:      actor,
	}, err)
}

// batchNo is RC + timestamp + a short random suffix, e.g. RC20251111083000-1f2e3d4c
func (s *batchServiceImpl) batchNo() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("RC%s-%s", s.now().UTC().Format("20060102150405"), suffix)
}

func pick(v *decimal.Decimal, fallback decimal.Decimal) decimal.Decimal {
	if v != nil {
		return *v
	}
	return fallback
}
