package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/garyjia/spend-reconciliation/internal/application/port"
	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/garyjia/spend-reconciliation/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// AccountDirectory implements port.AccountDirectory over the ad_accounts read model
type AccountDirectory struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAccountDirectory creates a directory backed by the ad_accounts table
func NewAccountDirectory(db *sql.DB, logger *zap.Logger) port.AccountDirectory {
	return &AccountDirectory{
		db:     db,
		logger: logger,
	}
}

// InScope returns active accounts in the scope's channels and projects, by id
func (d *AccountDirectory) InScope(ctx context.Context, scope entity.BatchScope) ([]entity.AdAccount, error) {
	where := []string{"status = ?"}
	args := []interface{}{entity.AdAccountStatusActive}

	if len(scope.ChannelIDs) > 0 {
		in, inArgs := inClause(scope.ChannelIDs)
		where = append(where, "channel_id IN ("+in+")")
		args = append(args, inArgs...)
	}
	if len(scope.ProjectIDs) > 0 {
		in, inArgs := inClause(scope.ProjectIDs)
		where = append(where, "project_id IN ("+in+")")
		args = append(args, inArgs...)
	}

	query := `SELECT id, project_id, channel_id, assigned_user_id, status, currency
		FROM ad_accounts WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id`

	rows, err := sqlite.ExecutorFrom(ctx, d.db).QueryContext(ctx, query, args...)
	if err != nil {
		d.logger.Error("Failed to query account directory", zap.Error(err))
		return nil, apperror.Transient(apperror.CodeDirectoryUnavailable, err, "account directory query failed")
	}
	defer rows.Close()

	var accounts []entity.AdAccount
	for rows.Next() {
		var a entity.AdAccount
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.ChannelID, &a.AssignedUserID, &a.Status, &a.Currency); err != nil {
			return nil, fmt.Errorf("failed to scan ad account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Transient(apperror.CodeDirectoryUnavailable, err, "account directory read failed")
	}
	return accounts, nil
}

var _ port.AccountDirectory = (*AccountDirectory)(nil)
