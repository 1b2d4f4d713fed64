package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// AdAccount is an entry of the ad account directory owned by the surrounding service
type AdAccount struct {
	ID             int64  `json:"id"`
	ProjectID      int64  `json:"project_id"`
	ChannelID      int64  `json:"channel_id"`
	AssignedUserID string `json:"assigned_user_id,omitempty"`
	Status         string `json:"status"`
	Currency       string `json:"currency"`
}

// Ad account status that puts an account in scope
const AdAccountStatusActive = "active"

// SpendFigure is an amount observed on one side of a reconciliation
type SpendFigure struct {
	Amount   decimal.Decimal
	Currency string
	// Date is nil when no data exists for the requested day
	Date *time.Time
}
