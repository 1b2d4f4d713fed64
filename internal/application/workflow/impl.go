package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/application/port"
	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/garyjia/spend-reconciliation/internal/domain/event"
	domainwf "github.com/garyjia/spend-reconciliation/internal/domain/workflow"
	"go.uber.org/zap"
)

const (
	DefaultWorkers = 8
	MaxWorkers     = 16
)

// CodeBatchNotRunning is returned when cancelling a batch that is not processing
const CodeBatchNotRunning = "BATCH_NOT_RUNNING"

var (
	errCancelled        = errors.New(entity.ReasonCancelled)
	errDeadlineExceeded = errors.New(entity.ReasonDeadlineExceeded)
	errDetailsMissing   = errors.New(entity.ReasonDetailsMissing)
)

// Config tunes batch runs
type Config struct {
	// Workers is the per-batch pool size, clamped to 1..MaxWorkers
	Workers int

	// BatchDeadline bounds a whole run; zero means no deadline
	BatchDeadline time.Duration
}

// Repositories groups the stores the orchestrator writes through
type Repositories struct {
	Batches port.BatchRepository
	Claims  port.ScopeClaimRepository
	Details port.DetailRepository
	Audit   port.AuditRepository
}

type orchestrator struct {
	repos     Repositories
	txManager port.TransactionManager
	directory port.AccountDirectory
	collector Collector
	publisher port.EventPublisher
	cfg       Config
	logger    *zap.Logger

	mu   sync.Mutex
	runs map[int64]*run
}

type run struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	stop   context.CancelFunc
	done   chan struct{}
}

// Option configures the orchestrator
type Option func(*orchestrator)

// WithPublisher sets the publisher for batch events
func WithPublisher(p port.EventPublisher) Option {
	return func(o *orchestrator) {
		o.publisher = p
	}
}

// NewOrchestrator creates a batch orchestrator
func NewOrchestrator(
	repos Repositories,
	txManager port.TransactionManager,
	directory port.AccountDirectory,
	collector Collector,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) Orchestrator {
	o := &orchestrator{
		repos:     repos,
		txManager: txManager,
		directory: directory,
		collector: collector,
		cfg:       cfg,
		logger:    logger,
		runs:      make(map[int64]*run),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Start validates the batch, resolves its accounts, claims the scope and
// launches the run. It returns once the batch is processing.
func (o *orchestrator) Start(ctx context.Context, batchID int64, actor string) (*entity.Batch, error) {
	batch, err := o.repos.Batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if err := checkStartable(ctx, batch); err != nil {
		return nil, err
	}

	accounts, err := o.directory.InScope(ctx, batch.Scope)
	if err != nil {
		o.logger.Error("Account directory unavailable, aborting batch",
			zap.Int64("batch_id", batch.ID),
			zap.Error(err))
		if abortErr := o.abortBeforeRun(ctx, batch, actor); abortErr != nil {
			return nil, abortErr
		}
		return nil, err
	}

	accountIDs := make([]int64, 0, len(accounts))
	for _, a := range accounts {
		accountIDs = append(accountIDs, a.ID)
	}

	// The run is visible before the batch turns processing, so a Cancel that
	// observes processing always finds it
	r, err := o.register(batch.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	err = o.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := o.repos.Batches.Transition(txCtx, port.BatchTransition{
			BatchID:     batch.ID,
			FromStatus:  entity.BatchStatusPending,
			FromVersion: batch.Version,
			ToStatus:    entity.BatchStatusProcessing,
			StartedAt:   &now,
		}); err != nil {
			return alreadyRunning(batch.ID, err)
		}

		if err := o.repos.Claims.Claim(txCtx, batch.ID, batch.ReconciliationDate, accountIDs); err != nil {
			return err
		}

		return o.repos.Audit.Append(txCtx, batchAudit(batch.ID, actor, entity.AuditOpStartBatch,
			entity.BatchStatusPending, entity.BatchStatusProcessing,
			map[string]interface{}{"accounts": len(accounts)}))
	})
	if err != nil {
		o.release(batch.ID, r)
		return nil, err
	}

	o.launch(r, batch, accounts, actor)

	o.publish(ctx, event.NewBatchEvent(event.TypeBatchStarted, batch.ID, actor, map[string]interface{}{
		"batch_no": batch.BatchNo,
		"accounts": len(accounts),
	}))

	o.logger.Info("Batch started",
		zap.Int64("batch_id", batch.ID),
		zap.String("batch_no", batch.BatchNo),
		zap.Int("accounts", len(accounts)))

	return o.repos.Batches.GetByID(ctx, batch.ID)
}

// Cancel stops a processing batch and waits for the run to wind down. A
// processing batch without a run in this process is moved to exception directly.
func (o *orchestrator) Cancel(ctx context.Context, batchID int64, actor string) (*entity.Batch, error) {
	batch, err := o.repos.Batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != entity.BatchStatusProcessing {
		return nil, apperror.Conflict(CodeBatchNotRunning, "batch %d is %s, not processing", batch.ID, batch.Status)
	}

	o.mu.Lock()
	r, ok := o.runs[batchID]
	o.mu.Unlock()

	if ok {
		r.cancel(errCancelled)
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		o.logger.Warn("No local run for processing batch, failing it directly", zap.Int64("batch_id", batchID))
		if err := o.fail(ctx, batchID, actor, entity.ReasonCancelled); err != nil {
			return nil, err
		}
	}

	return o.repos.Batches.GetByID(ctx, batchID)
}

// Wait blocks until the batch's run finishes. It returns immediately when
// no run is active in this process.
func (o *orchestrator) Wait(ctx context.Context, batchID int64) error {
	o.mu.Lock()
	r, ok := o.runs[batchID]
	o.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// register reserves the batch's run slot. A second Start in this process
// loses here instead of replacing the first run.
func (o *orchestrator) register(batchID int64) (*run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.runs[batchID]; ok {
		return nil, apperror.Conflict(apperror.CodeBatchAlreadyRunning, "batch %d is already running", batchID)
	}

	runCtx, cancel := context.WithCancelCause(context.Background())
	stop := context.CancelFunc(func() {})
	if o.cfg.BatchDeadline > 0 {
		runCtx, stop = context.WithTimeoutCause(runCtx, o.cfg.BatchDeadline, errDeadlineExceeded)
	}

	r := &run{ctx: runCtx, cancel: cancel, stop: stop, done: make(chan struct{})}
	o.runs[batchID] = r
	return r, nil
}

// release frees the run slot and wakes every waiter
func (o *orchestrator) release(batchID int64, r *run) {
	r.stop()
	r.cancel(nil)
	o.mu.Lock()
	if o.runs[batchID] == r {
		delete(o.runs, batchID)
	}
	o.mu.Unlock()
	close(r.done)
}

func (o *orchestrator) launch(r *run, batch *entity.Batch, accounts []entity.AdAccount, actor string) {
	go func() {
		defer o.release(batch.ID, r)
		o.execute(r.ctx, batch, accounts, actor)
	}()
}

// execute fans accounts out to the worker pool, then completes or fails the
// batch depending on whether the run was cut short
func (o *orchestrator) execute(ctx context.Context, batch *entity.Batch, accounts []entity.AdAccount, actor string) {
	tasks := make(chan entity.AdAccount)
	var wg sync.WaitGroup

	for i := 0; i < o.workerCount(len(accounts)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for account := range tasks {
				o.safeProcess(ctx, batch, account)
			}
		}()
	}

	for _, account := range accounts {
		tasks <- account
	}
	close(tasks)
	wg.Wait()

	// Finalization must survive the run's own cancellation
	finalCtx := context.Background()

	if ctx.Err() != nil {
		reason := abortReason(ctx)
		o.logger.Warn("Batch run cut short",
			zap.Int64("batch_id", batch.ID),
			zap.String("reason", reason))
		if err := o.fail(finalCtx, batch.ID, actor, reason); err != nil {
			o.logger.Error("Failed to move batch to exception", zap.Int64("batch_id", batch.ID), zap.Error(err))
		}
		return
	}

	err := o.complete(finalCtx, batch.ID, actor, len(accounts))
	if errors.Is(err, errDetailsMissing) {
		o.logger.Error("Batch is missing details, moving to exception", zap.Int64("batch_id", batch.ID), zap.Error(err))
		err = o.fail(finalCtx, batch.ID, actor, entity.ReasonDetailsMissing)
	}
	if err != nil {
		o.logger.Error("Failed to complete batch", zap.Int64("batch_id", batch.ID), zap.Error(err))
	}
}

func (o *orchestrator) workerCount(accounts int) int {
	n := o.cfg.Workers
	if n <= 0 {
		n = DefaultWorkers
	}
	if n > MaxWorkers {
		n = MaxWorkers
	}
	if accounts > 0 && n > accounts {
		n = accounts
	}
	if n < 1 {
		n = 1
	}
	return n
}

// safeProcess keeps a panicking account from taking the whole run down
func (o *orchestrator) safeProcess(ctx context.Context, batch *entity.Batch, account entity.AdAccount) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Panic while reconciling account",
				zap.Int64("batch_id", batch.ID),
				zap.Int64("ad_account_id", account.ID),
				zap.Any("panic", r))
			d := newDetail(batch, account)
			markFailed(d, entity.DifferenceExternalFetchFailed, fmt.Sprintf("panic: %v", r))
			o.persistDetail(context.WithoutCancel(ctx), d)
		}
	}()
	o.processAccount(ctx, batch, account)
}

func (o *orchestrator) processAccount(ctx context.Context, batch *entity.Batch, account entity.AdAccount) {
	d := newDetail(batch, account)
	writeCtx := context.WithoutCancel(ctx)

	if ctx.Err() != nil {
		markFailed(d, entity.DifferenceProcessingAborted, abortReason(ctx))
		o.persistDetail(writeCtx, d)
		return
	}

	pair, err := o.collector.Collect(ctx, account, batch.ReconciliationDate, batch.ReportingCurrency)
	applyPair(d, pair)

	switch {
	case err != nil && ctx.Err() != nil:
		markFailed(d, entity.DifferenceProcessingAborted, abortReason(ctx))
	case err != nil:
		markFailed(d, failureType(err), err.Error())
		o.logger.Warn("Account reconciliation failed",
			zap.Int64("batch_id", batch.ID),
			zap.Int64("ad_account_id", account.ID),
			zap.String("difference_type", string(d.DifferenceType)),
			zap.Error(err))
	default:
		applyMatch(d, pair, batch.Tolerance)
	}

	o.persistDetail(writeCtx, d)
}

func (o *orchestrator) persistDetail(ctx context.Context, d *entity.Detail) {
	err := o.repos.Details.Create(ctx, d)
	if err == nil {
		return
	}
	if apperror.CodeOf(err) == apperror.CodeDuplicateDetail {
		o.logger.Warn("Detail already exists, skipping",
			zap.Int64("batch_id", d.BatchID),
			zap.Int64("ad_account_id", d.AdAccountID))
		return
	}
	o.logger.Error("Failed to persist detail",
		zap.Int64("batch_id", d.BatchID),
		zap.Int64("ad_account_id", d.AdAccountID),
		zap.Error(err))
}

// complete recomputes aggregates and moves processing -> completed. It
// refuses with errDetailsMissing unless every in-scope account has a detail.
func (o *orchestrator) complete(ctx context.Context, batchID int64, actor string, expected int) error {
	var result *entity.Batch
	err := o.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		current, err := o.repos.Batches.GetByID(txCtx, batchID)
		if err != nil {
			return err
		}
		if _, err := BuildBatchStateMachine(domainwf.State(current.Status)).Target(txCtx, domainwf.TriggerComplete); err != nil {
			return apperror.Conflict(apperror.CodeVersionConflict, "batch %d cannot complete from %s", batchID, current.Status)
		}

		written, err := o.repos.Details.CountByBatch(txCtx, batchID)
		if err != nil {
			return err
		}
		if written < expected {
			return fmt.Errorf("%w: %d of %d accounts have details", errDetailsMissing, written, expected)
		}

		counters, err := o.refreshAggregates(txCtx, batchID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := o.repos.Batches.Transition(txCtx, port.BatchTransition{
			BatchID:     batchID,
			FromStatus:  entity.BatchStatusProcessing,
			FromVersion: current.Version,
			ToStatus:    entity.BatchStatusCompleted,
			CompletedAt: &now,
		}); err != nil {
			return err
		}
		if err := o.repos.Claims.Release(txCtx, batchID); err != nil {
			return err
		}
		if err := o.repos.Audit.Append(txCtx, batchAudit(batchID, actor, entity.AuditOpCompleteBatch,
			entity.BatchStatusProcessing, entity.BatchStatusCompleted, counterPayload(counters))); err != nil {
			return err
		}

		result, err = o.repos.Batches.GetByID(txCtx, batchID)
		return err
	})
	if err != nil {
		return err
	}

	o.logger.Info("Batch completed",
		zap.Int64("batch_id", batchID),
		zap.Int("total", result.Counters.Total),
		zap.Int("matched", result.Counters.Matched),
		zap.Int("auto_matched", result.Counters.AutoMatched),
		zap.Int("mismatched", result.Counters.Mismatched))

	o.publish(ctx, event.NewBatchEvent(event.TypeBatchCompleted, batchID, actor, counterPayload(result.Counters)))
	return nil
}

// fail moves processing -> exception, keeping whatever details were written
func (o *orchestrator) fail(ctx context.Context, batchID int64, actor, reason string) error {
	err := o.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		current, err := o.repos.Batches.GetByID(txCtx, batchID)
		if err != nil {
			return err
		}

		trigger := domainwf.TriggerFail
		if reason == entity.ReasonCancelled {
			trigger = domainwf.TriggerCancel
		}
		if _, err := BuildBatchStateMachine(domainwf.State(current.Status)).Target(txCtx, trigger); err != nil {
			return apperror.Conflict(CodeBatchNotRunning, "batch %d is %s, not processing", batchID, current.Status)
		}

		counters, err := o.refreshAggregates(txCtx, batchID)
		if err != nil {
			return err
		}

		if err := o.repos.Batches.Transition(txCtx, port.BatchTransition{
			BatchID:         batchID,
			FromStatus:      entity.BatchStatusProcessing,
			FromVersion:     current.Version,
			ToStatus:        entity.BatchStatusException,
			ExceptionReason: reason,
		}); err != nil {
			return err
		}
		if err := o.repos.Claims.Release(txCtx, batchID); err != nil {
			return err
		}

		payload := counterPayload(counters)
		payload["reason"] = reason
		return o.repos.Audit.Append(txCtx, batchAudit(batchID, actor, entity.AuditOpFailBatch,
			entity.BatchStatusProcessing, entity.BatchStatusException, payload))
	})
	if err != nil {
		return err
	}

	o.publish(ctx, event.NewBatchEvent(event.TypeBatchFailed, batchID, actor, map[string]interface{}{
		"reason": reason,
	}))
	return nil
}

// abortBeforeRun records a batch-level failure that happened before any
// detail was written: pending -> processing -> exception in one transaction
func (o *orchestrator) abortBeforeRun(ctx context.Context, batch *entity.Batch, actor string) error {
	now := time.Now().UTC()
	err := o.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := o.repos.Batches.Transition(txCtx, port.BatchTransition{
			BatchID:     batch.ID,
			FromStatus:  entity.BatchStatusPending,
			FromVersion: batch.Version,
			ToStatus:    entity.BatchStatusProcessing,
			StartedAt:   &now,
		}); err != nil {
			return alreadyRunning(batch.ID, err)
		}
		if err := o.repos.Audit.Append(txCtx, batchAudit(batch.ID, actor, entity.AuditOpStartBatch,
			entity.BatchStatusPending, entity.BatchStatusProcessing, nil)); err != nil {
			return err
		}

		if err := o.repos.Batches.Transition(txCtx, port.BatchTransition{
			BatchID:         batch.ID,
			FromStatus:      entity.BatchStatusProcessing,
			FromVersion:     batch.Version + 1,
			ToStatus:        entity.BatchStatusException,
			ExceptionReason: entity.ReasonDirectoryUnavailable,
		}); err != nil {
			return err
		}
		return o.repos.Audit.Append(txCtx, batchAudit(batch.ID, actor, entity.AuditOpFailBatch,
			entity.BatchStatusProcessing, entity.BatchStatusException,
			map[string]interface{}{"reason": entity.ReasonDirectoryUnavailable}))
	})
	if err != nil {
		return err
	}

	o.publish(ctx, event.NewBatchEvent(event.TypeBatchFailed, batch.ID, actor, map[string]interface{}{
		"reason": entity.ReasonDirectoryUnavailable,
	}))
	return nil
}

func (o *orchestrator) publish(ctx context.Context, evt *event.Event) {
	if o.publisher == nil {
		return
	}
	o.publisher.Publish(ctx, evt)
}

func checkStartable(ctx context.Context, batch *entity.Batch) error {
	machine := BuildBatchStateMachine(domainwf.State(batch.Status))
	if _, err := machine.Target(ctx, domainwf.TriggerStart); err == nil {
		return nil
	}
	if batch.Status == entity.BatchStatusProcessing {
		return apperror.Conflict(apperror.CodeBatchAlreadyRunning, "batch %d is already running", batch.ID)
	}
	return apperror.Conflict(apperror.CodeBatchNotPending, "batch %d is %s, only pending batches can start", batch.ID, batch.Status)
}

// alreadyRunning reports a lost pending -> processing CAS as BatchAlreadyRunning
func alreadyRunning(batchID int64, err error) error {
	if apperror.CodeOf(err) == apperror.CodeVersionConflict {
		return apperror.Conflict(apperror.CodeBatchAlreadyRunning, "batch %d was started concurrently", batchID)
	}
	return err
}

func abortReason(ctx context.Context) string {
	if errors.Is(context.Cause(ctx), errDeadlineExceeded) {
		return entity.ReasonDeadlineExceeded
	}
	return entity.ReasonCancelled
}

func batchAudit(batchID int64, actor, op string, before, after entity.BatchStatus, payload map[string]interface{}) *entity.AuditEntry {
	return &entity.AuditEntry{
		EntityType:   entity.AuditEntityBatch,
		EntityID:     batchID,
		BatchID:      batchID,
		Actor:        actor,
		Operation:    op,
		BeforeStatus: string(before),
		AfterStatus:  string(after),
		Payload:      encodePayload(payload),
	}
}

func counterPayload(c entity.BatchCounters) map[string]interface{} {
	return map[string]interface{}{
		"total":           c.Total,
		"matched":         c.Matched,
		"mismatched":      c.Mismatched,
		"auto_matched":    c.AutoMatched,
		"manual_reviewed": c.ManualReviewed,
	}
}

func encodePayload(payload map[string]interface{}) string {
	if len(payload) == 0 {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(data)
}
