package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/application/port"
	"github.com/garyjia/spend-reconciliation/internal/application/workflow"
	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/garyjia/spend-reconciliation/internal/domain/event"
	domainwf "github.com/garyjia/spend-reconciliation/internal/domain/workflow"
	"github.com/garyjia/spend-reconciliation/pkg/utils"
)

// DefaultLockTTL bounds how long one detail operation may hold its lock
const DefaultLockTTL = 30 * time.Second

// ResolutionService drives detail review, adjustment and resolution. Every
// operation is idempotent on (detail, opID).
type ResolutionService interface {
	Review(ctx context.Context, detailID int64, req ReviewRequest, actor, opID string) (*DetailResult, error)
	Adjust(ctx context.Context, detailID int64, req AdjustmentRequest, actor, opID string) (*DetailResult, error)
	FinanceConfirm(ctx context.Context, adjustmentID int64, actor, opID string) (*DetailResult, error)
	ResolveWithoutAdjustment(ctx context.Context, detailID int64, reason, actor, opID string) (*DetailResult, error)
	GetDetail(ctx context.Context, detailID int64) (*entity.Detail, error)
	ListAdjustments(ctx context.Context, detailID int64) ([]*entity.Adjustment, error)
}

// ResolutionRepositories groups the stores detail operations write through
type ResolutionRepositories struct {
	Batches     port.BatchRepository
	Details     port.DetailRepository
	Adjustments port.AdjustmentRepository
	Operations  port.OperationRepository
	Audit       port.AuditRepository
}

type resolutionServiceImpl struct {
	repos        ResolutionRepositories
	txManager    port.TransactionManager
	locker       port.Locker
	orchestrator workflow.Orchestrator
	publisher    port.EventPublisher
	lockTTL      time.Duration
	logger       Logger
	now          func() time.Time
}

// NewResolutionService creates a new ResolutionService
func NewResolutionService(
	repos ResolutionRepositories,
	txManager port.TransactionManager,
	locker port.Locker,
	orchestrator workflow.Orchestrator,
	publisher port.EventPublisher,
	lockTTL time.Duration,
	logger Logger,
) ResolutionService {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &resolutionServiceImpl{
		repos:        repos,
		txManager:    txManager,
		locker:       locker,
		orchestrator: orchestrator,
		publisher:    publisher,
		lockTTL:      lockTTL,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// operation is one state-changing step on a locked, reviewable detail
type operation func(ctx context.Context, detail *entity.Detail, out *opOutcome) error

type opOutcome struct {
	result   DetailResult
	resolved bool
}

// Review applies an operator decision to a detail
func (s *resolutionServiceImpl) Review(ctx context.Context, detailID int64, req ReviewRequest, actor, opID string) (*DetailResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	notes := utils.SanitizeString(req.Notes)

	return s.execute(ctx, detailID, opID, entity.AuditOpReview, actor, func(ctx context.Context, detail *entity.Detail, out *opOutcome) error {
		trigger, _ := workflow.DecisionTrigger(req.Decision)
		next, err := workflow.BuildDetailStateMachine(detail).Target(ctx, trigger)
		if err != nil {
			return apperror.Policy(apperror.CodeInvalidDetailState, "cannot %s a %s detail", req.Decision, detail.MatchStatus)
		}
		if req.Decision == entity.ReviewApprove && detail.MatchStatus == entity.MatchStatusManualReview && notes == "" {
			return apperror.New(apperror.KindValidation, apperror.CodeReasonRequired, "approving a manual_review detail requires notes")
		}
		if req.Decision == entity.ReviewApprove {
			// an approved detail can close its batch; pending adjustments must reach finance first
			pending, err := s.repos.Adjustments.CountUnconfirmed(ctx, detail.ID)
			if err != nil {
				return err
			}
			if pending > 0 {
				return apperror.Policy(apperror.CodeInvalidDetailState, "detail %d has %d adjustments awaiting finance", detail.ID, pending)
			}
		}

		before := detail.MatchStatus
		now := s.now()
		detail.MatchStatus = entity.MatchStatus(next)
		detail.ReviewedBy = actor
		detail.ReviewedAt = &now
		detail.ReviewDecision = req.Decision
		detail.ReviewNotes = notes

		if err := s.repos.Details.UpdateOutcome(ctx, detail); err != nil {
			return err
		}
		return s.repos.Audit.Append(ctx, detailAudit(detail, actor, entity.AuditOpReview, before, map[string]interface{}{
			"decision": req.Decision,
			"notes":    notes,
		}))
	})
}

// Adjust appends an adjustment; a finance-confirmed one resolves the detail
// once no unconfirmed adjustments remain
func (s *resolutionServiceImpl) Adjust(ctx context.Context, detailID int64, req AdjustmentRequest, actor, opID string) (*DetailResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	return s.execute(ctx, detailID, opID, entity.AuditOpAdjust, actor, func(ctx context.Context, detail *entity.Detail, out *opOutcome) error {
		if _, err := workflow.BuildDetailStateMachine(detail).Target(ctx, domainwf.TriggerSettle); err != nil {
			return apperror.Policy(apperror.CodeInvalidDetailState, "a %s detail cannot be adjusted", detail.MatchStatus)
		}

		current := detail.InternalAmount
		if req.AdjustmentType == entity.AdjustmentTypeSpend {
			current = detail.ExternalAmount
		}
		if !req.OriginalAmount.Equal(current) {
			return apperror.New(apperror.KindValidation, apperror.CodeOriginalAmountMismatch,
				"original_amount %s does not match the current %s figure %s", req.OriginalAmount, req.AdjustmentType, current)
		}
		if req.OriginalAmount.Add(req.AdjustmentAmount).IsNegative() {
			return apperror.Validation("adjusted amount would be negative")
		}

		now := s.now()
		adj := &entity.Adjustment{
			DetailID:         detail.ID,
			BatchID:          detail.BatchID,
			AdjustmentType:   req.AdjustmentType,
			OriginalAmount:   req.OriginalAmount,
			AdjustmentAmount: req.AdjustmentAmount,
			ReasonCategory:   utils.SanitizeString(req.ReasonCategory),
			ReasonDetail:     utils.SanitizeString(req.ReasonDetail),
			EvidenceURL:      req.EvidenceURL,
			ApprovedBy:       actor,
			ApprovedAt:       now,
		}
		if req.FinanceConfirmed {
			adj.FinanceConfirmed = true
			adj.FinanceConfirmedBy = actor
			adj.FinanceConfirmedAt = &now
		}
		if err := s.repos.Adjustments.Create(ctx, adj); err != nil {
			return err
		}
		if err := s.repos.Audit.Append(ctx, adjustmentAudit(adj, actor, entity.AuditOpAdjust)); err != nil {
			return err
		}
		out.setAdjustment(adj)

		if !adj.FinanceConfirmed {
			return nil
		}
		return s.settleIfConfirmed(ctx, detail, actor, out)
	})
}

// FinanceConfirm confirms an adjustment and resolves its detail when it was
// the last unconfirmed one
func (s *resolutionServiceImpl) FinanceConfirm(ctx context.Context, adjustmentID int64, actor, opID string) (*DetailResult, error) {
	adj, err := s.repos.Adjustments.GetByID(ctx, adjustmentID)
	if err != nil {
		return nil, err
	}

	return s.execute(ctx, adj.DetailID, opID, entity.AuditOpFinanceConfirm, actor, func(ctx context.Context, detail *entity.Detail, out *opOutcome) error {
		if err := s.repos.Adjustments.Confirm(ctx, adjustmentID, actor, s.now()); err != nil {
			return err
		}
		confirmed, err := s.repos.Adjustments.GetByID(ctx, adjustmentID)
		if err != nil {
			return err
		}
		if err := s.repos.Audit.Append(ctx, adjustmentAudit(confirmed, actor, entity.AuditOpFinanceConfirm)); err != nil {
			return err
		}
		out.setAdjustment(confirmed)

		return s.settleIfConfirmed(ctx, detail, actor, out)
	})
}

// ResolveWithoutAdjustment closes a detail whose difference is accepted as is
func (s *resolutionServiceImpl) ResolveWithoutAdjustment(ctx context.Context, detailID int64, reason, actor, opID string) (*DetailResult, error) {
	reason = utils.SanitizeString(reason)
	if reason == "" {
		return nil, apperror.New(apperror.KindValidation, apperror.CodeReasonRequired, "a reason is required to resolve without adjustment")
	}

	return s.execute(ctx, detailID, opID, entity.AuditOpResolveNoAdjust, actor, func(ctx context.Context, detail *entity.Detail, out *opOutcome) error {
		pending, err := s.repos.Adjustments.CountUnconfirmed(ctx, detail.ID)
		if err != nil {
			return err
		}
		if pending > 0 {
			return apperror.Policy(apperror.CodeInvalidDetailState, "detail %d has %d adjustments awaiting finance", detail.ID, pending)
		}
		return s.settle(ctx, detail, entity.ResolutionNoAdjustment, reason, actor, entity.AuditOpResolveNoAdjust, out)
	})
}

// GetDetail returns one detail
func (s *resolutionServiceImpl) GetDetail(ctx context.Context, detailID int64) (*entity.Detail, error) {
	return s.repos.Details.GetByID(ctx, detailID)
}

// ListAdjustments returns a detail's adjustments, oldest first
func (s *resolutionServiceImpl) ListAdjustments(ctx context.Context, detailID int64) ([]*entity.Adjustment, error) {
	if _, err := s.repos.Details.GetByID(ctx, detailID); err != nil {
		return nil, err
	}
	return s.repos.Adjustments.ListByDetail(ctx, detailID)
}

// execute runs op under the detail lock and inside one transaction. The
// idempotency record is checked and written in that same transaction, and
// batch aggregates are recomputed before it commits.
func (s *resolutionServiceImpl) execute(ctx context.Context, detailID int64, opID, opName, actor string, op operation) (*DetailResult, error) {
	opID = strings.TrimSpace(opID)
	if opID == "" {
		return nil, apperror.Validation("op_id is required")
	}

	lock, err := s.locker.Obtain(ctx, fmt.Sprintf("detail:%d", detailID), s.lockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error("Failed to release detail lock", "error", err, "detail_id", detailID)
		}
	}()

	var (
		out       opOutcome
		replayed  bool
		batchID   int64
		recompute *workflow.RecomputeResult
	)

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		prior, err := s.repos.Operations.Get(txCtx, detailID, opID)
		if err != nil {
			return err
		}
		if prior != nil {
			if prior.Operation != opName {
				return apperror.Conflict(apperror.CodeOperationReplayMismatch,
					"op_id %s was already used for %s on detail %d", opID, prior.Operation, detailID)
			}
			replayed = true
			if err := json.Unmarshal([]byte(prior.Result), &out.result); err != nil {
				return fmt.Errorf("decode stored result: %w", err)
			}
			return nil
		}

		detail, err := s.repos.Details.GetByID(txCtx, detailID)
		if err != nil {
			return err
		}
		batchID = detail.BatchID

		batch, err := s.repos.Batches.GetByID(txCtx, detail.BatchID)
		if err != nil {
			return err
		}
		if !batch.IsReviewable() {
			return apperror.NotReviewable("batch %d is %s", batch.ID, batch.Status)
		}
		if detail.MatchStatus == entity.MatchStatusResolved {
			return apperror.Policy(apperror.CodeDetailResolved, "detail %d is already resolved", detail.ID)
		}

		if err := op(txCtx, detail, &out); err != nil {
			return err
		}

		recompute, err = s.orchestrator.Recompute(txCtx, detail.BatchID, actor)
		if err != nil {
			return err
		}

		out.result.Detail = detail
		out.result.BatchStatus = recompute.Batch.Status

		encoded, err := json.Marshal(out.result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		return s.repos.Operations.Save(txCtx, &entity.DetailOperation{
			DetailID:  detailID,
			OpID:      opID,
			Operation: opName,
			Result:    string(encoded),
		})
	})
	if err != nil {
		s.logger.Error("Detail operation failed", "error", err, "operation", opName, "detail_id", detailID, "op_id", opID)
		return nil, internalError(ctx, s.repos.Audit, s.logger, &entity.AuditEntry{
			EntityType: entity.AuditEntityDetail,
			EntityID:   detailID,
			BatchID:    batchID,
			Actor:      actor,
		}, err)
	}

	if replayed {
		s.logger.Info("Replayed detail operation", "operation", opName, "detail_id", detailID, "op_id", opID)
		return &out.result, nil
	}

	if out.resolved {
		s.publish(ctx, event.NewDetailEvent(event.TypeDetailResolved, batchID, detailID, actor, map[string]interface{}{
			"resolution_type": out.result.Detail.ResolutionType,
		}))
	}
	if recompute.Resolved {
		s.publish(ctx, workflow.ResolvedEvent(recompute, actor))
	}

	s.logger.Info("Detail operation applied", "operation", opName, "detail_id", detailID, "status", out.result.Detail.MatchStatus)
	return &out.result, nil
}

// settleIfConfirmed resolves the detail as adjusted when every adjustment is confirmed
func (s *resolutionServiceImpl) settleIfConfirmed(ctx context.Context, detail *entity.Detail, actor string, out *opOutcome) error {
	pending, err := s.repos.Adjustments.CountUnconfirmed(ctx, detail.ID)
	if err != nil {
		return err
	}
	if pending > 0 {
		return nil
	}
	return s.settle(ctx, detail, entity.ResolutionAdjusted, "", actor, entity.AuditOpFinanceConfirm, out)
}

func (s *resolutionServiceImpl) settle(ctx context.Context, detail *entity.Detail, resolution, notes, actor, auditOp string, out *opOutcome) error {
	next, err := workflow.BuildDetailStateMachine(detail).Target(ctx, domainwf.TriggerSettle)
	if err != nil {
		return apperror.Policy(apperror.CodeInvalidDetailState, "a %s detail cannot be resolved", detail.MatchStatus)
	}

	before := detail.MatchStatus
	now := s.now()
	detail.MatchStatus = entity.MatchStatus(next)
	detail.ResolutionType = resolution
	detail.ResolutionNotes = notes
	detail.ResolvedBy = actor
	detail.ResolvedAt = &now

	if err := s.repos.Details.UpdateOutcome(ctx, detail); err != nil {
		return err
	}
	out.resolved = true
	return s.repos.Audit.Append(ctx, detailAudit(detail, actor, auditOp, before, map[string]interface{}{
		"resolution_type": resolution,
	}))
}

func (s *resolutionServiceImpl) publish(ctx context.Context, evt *event.Event) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, evt)
}

func (o *opOutcome) setAdjustment(adj *entity.Adjustment) {
	adjusted := adj.AdjustedAmount()
	o.result.Adjustment = adj
	o.result.AdjustedAmount = &adjusted
}

func detailAudit(d *entity.Detail, actor, op string, before entity.MatchStatus, payload map[string]interface{}) *entity.AuditEntry {
	return &entity.AuditEntry{
		EntityType:   entity.AuditEntityDetail,
		EntityID:     d.ID,
		BatchID:      d.BatchID,
		Actor:        actor,
		Operation:    op,
		BeforeStatus: string(before),
		AfterStatus:  string(d.MatchStatus),
		Payload:      encodePayload(payload),
	}
}

func adjustmentAudit(adj *entity.Adjustment, actor, op string) *entity.AuditEntry {
	return &entity.AuditEntry{
		EntityType: entity.AuditEntityAdjustment,
		EntityID:   adj.ID,
		BatchID:    adj.BatchID,
		Actor:      actor,
		Operation:  op,
		Payload: encodePayload(map[string]interface{}{
			"detail_id":         adj.DetailID,
			"adjustment_type":   adj.AdjustmentType,
			"original_amount":   adj.OriginalAmount.String(),
			"adjustment_amount": adj.AdjustmentAmount.String(),
			"finance_confirmed": adj.FinanceConfirmed,
		}),
	}
}
