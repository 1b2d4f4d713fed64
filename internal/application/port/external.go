package port

import (
	"context"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/garyjia/spend-reconciliation/internal/domain/event"
	"github.com/shopspring/decimal"
)

// PlatformAdapter fetches externally reported spend for one account and day.
// Errors should be apperror ExternalTransient or ExternalPermanent; anything
// else is treated as transient.
type PlatformAdapter interface {
	Fetch(ctx context.Context, account entity.AdAccount, date time.Time) (entity.SpendFigure, error)
}

// PlatformRegistry selects a platform adapter by channel
type PlatformRegistry interface {
	Adapter(channelID int64) (PlatformAdapter, bool)
}

// RateOracle converts between currencies. It must be deterministic per (from, to, date).
type RateOracle interface {
	Rate(ctx context.Context, from, to string, date time.Time) (decimal.Decimal, error)
}

// AccountDirectory resolves the active ad accounts in a batch scope
type AccountDirectory interface {
	InScope(ctx context.Context, scope entity.BatchScope) ([]entity.AdAccount, error)
}

// DailyReportSource sums approved daily report spend. With no approved
// entries it returns a zero amount and a nil date.
type DailyReportSource interface {
	ApprovedSpend(ctx context.Context, accountID int64, date time.Time) (entity.SpendFigure, error)
}

// Lock is a held mutual-exclusion lock
type Lock interface {
	Release(ctx context.Context) error
}

// Locker obtains named locks, either in-process or distributed
type Locker interface {
	// Obtain blocks until the lock is held, ctx is done, or the locker gives up
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// EventPublisher publishes events after the owning transaction commits
type EventPublisher interface {
	Publish(ctx context.Context, evt *event.Event)
}
