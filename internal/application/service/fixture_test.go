package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/application/aggregator"
	"github.com/garyjia/spend-reconciliation/internal/application/workflow"
	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/garyjia/spend-reconciliation/internal/domain/event"
	"github.com/garyjia/spend-reconciliation/internal/infrastructure/external/platform"
	"github.com/garyjia/spend-reconciliation/internal/infrastructure/lock"
	"github.com/garyjia/spend-reconciliation/internal/infrastructure/persistence/repository"
	"github.com/garyjia/spend-reconciliation/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/spend-reconciliation/internal/testutil"
	"github.com/garyjia/spend-reconciliation/pkg/database"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, evt *event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) count(t event.Type) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// platformStub answers fetches per account; accounts without an entry fail transiently
type platformStub struct {
	mu      sync.Mutex
	figures map[int64]entity.SpendFigure

	// gate, when set, holds every fetch until it is closed
	gate chan struct{}
}

func (p *platformStub) Fetch(ctx context.Context, account entity.AdAccount, date time.Time) (entity.SpendFigure, error) {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return entity.SpendFigure{}, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fig, ok := p.figures[account.ID]
	if !ok {
		return entity.SpendFigure{}, apperror.Transient(apperror.CodePlatformUnavailable, nil, "platform timed out")
	}
	return fig, nil
}

const (
	testChannel = int64(3)
	testProject = int64(10)
	reconDay    = "2025-11-10"
)

var reconDate = time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC)

type stack struct {
	t            *testing.T
	db           *database.DB
	platform     *platformStub
	publisher    *recordingPublisher
	orchestrator workflow.Orchestrator
	batches      BatchService
	resolution   ResolutionService
	reports      ReportService
	audit        interface {
		ListByBatch(ctx context.Context, batchID int64, page entity.Page) ([]*entity.AuditEntry, error)
	}
}

func newStack(t *testing.T) *stack {
	t.Helper()

	db := testutil.OpenDB(t)
	logger := zap.NewNop()
	txManager := sqlite.NewDB(db.DB, logger)

	batchRepo := repository.NewBatchRepository(db.DB, logger)
	detailRepo := repository.NewDetailRepository(db.DB, logger)
	auditRepo := repository.NewAuditRepository(db.DB, logger)

	stub := &platformStub{figures: map[int64]entity.SpendFigure{}}
	registry := platform.NewRegistry()
	registry.Register(testChannel, stub)

	agg := aggregator.New(
		registry,
		repository.NewDailyReportSource(db.DB, logger),
		repository.NewRateTable(db.DB, logger),
		aggregator.RetryPolicy{BaseDelay: time.Millisecond, MaxAttempts: 3, CallTimeout: time.Second},
		logger,
		aggregator.WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() }),
	)

	publisher := &recordingPublisher{}
	orch := workflow.NewOrchestrator(workflow.Repositories{
		Batches: batchRepo,
		Claims:  repository.NewScopeClaimRepository(db.DB, logger),
		Details: detailRepo,
		Audit:   auditRepo,
	}, txManager, repository.NewAccountDirectory(db.DB, logger), agg, workflow.Config{Workers: 4}, logger,
		workflow.WithPublisher(publisher))

	return &stack{
		t:            t,
		db:           db,
		platform:     stub,
		publisher:    publisher,
		orchestrator: orch,
		batches: NewBatchService(batchRepo, detailRepo, auditRepo, txManager, orch, BatchDefaults{
			ToleranceAbs:        decimal.Zero,
			ToleranceRel:        decimal.Zero,
			ConfidenceThreshold: decimal.RequireFromString("0.8"),
		}, &mockLogger{}),
		resolution: NewResolutionService(ResolutionRepositories{
			Batches:     batchRepo,
			Details:     detailRepo,
			Adjustments: repository.NewAdjustmentRepository(db.DB, logger),
			Operations:  repository.NewOperationRepository(db.DB, logger),
			Audit:       auditRepo,
		}, txManager, lock.NewMemoryLocker(), orch, publisher, time.Second, &mockLogger{}),
		reports: NewReportService(batchRepo, detailRepo, repository.NewReportRepository(db.DB, logger),
			auditRepo, txManager, publisher, &mockLogger{}),
		audit: auditRepo,
	}
}

// account seeds a USD account with an approved internal figure (empty for none)
// and an external figure (empty for a failing platform)
func (s *stack) account(id int64, internal, external string) {
	s.t.Helper()
	testutil.SeedAccount(s.t, s.db, id, testProject, testChannel, "USD")
	if internal != "" {
		testutil.SeedDailyReport(s.t, s.db, id, reconDay, internal, "USD", entity.DailyReportStatusApproved)
	}
	if external != "" {
		d := reconDate
		s.platform.mu.Lock()
		s.platform.figures[id] = entity.SpendFigure{Amount: decimal.RequireFromString(external), Currency: "USD", Date: &d}
		s.platform.mu.Unlock()
	}
}

// run creates and starts a batch, then waits for it to finish
func (s *stack) run(tolAbs string) *entity.Batch {
	s.t.Helper()
	ctx := context.Background()

	abs := decimal.RequireFromString(tolAbs)
	batch, err := s.batches.CreateBatch(ctx, CreateBatchRequest{
		ReconciliationDate: reconDay,
		ToleranceAbs:       &abs,
	}, "alice")
	require.NoError(s.t, err)

	_, err = s.batches.StartBatch(ctx, batch.ID, "alice")
	require.NoError(s.t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(s.t, s.orchestrator.Wait(waitCtx, batch.ID))

	done, err := s.batches.GetBatch(ctx, batch.ID)
	require.NoError(s.t, err)
	return done
}

func (s *stack) details(batchID int64) []*entity.Detail {
	s.t.Helper()
	details, _, err := s.batches.ListDetails(context.Background(), batchID, entity.DetailFilter{}, entity.Page{})
	require.NoError(s.t, err)
	return details
}

func (s *stack) detailFor(batchID, accountID int64) *entity.Detail {
	s.t.Helper()
	for _, d := range s.details(batchID) {
		if d.AdAccountID == accountID {
			return d
		}
	}
	s.t.Fatalf("no detail for account %d in batch %d", accountID, batchID)
	return nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
