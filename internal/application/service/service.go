// Package service exposes the reconciliation operations callers use: batch
// management, detail resolution and reporting.
package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/garyjia/spend-reconciliation/internal/application/port"
	"github.com/garyjia/spend-reconciliation/internal/domain/apperror"
	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
	"github.com/garyjia/spend-reconciliation/pkg/utils"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

func validateRequest(req interface{}) error {
	if err := utils.ValidateStruct(req); err != nil {
		return apperror.Validation("%s", err.Error())
	}
	return nil
}

// internalError turns an unclassified failure into an InternalError and
// records it in the audit log. Classified errors pass through untouched.
func internalError(ctx context.Context, audit port.AuditRepository, logger Logger, entry *entity.AuditEntry, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperror.Error
	if errors.As(err, &appErr) && appErr.Kind != apperror.KindInternal {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	entry.Operation = entity.AuditOpInternalError
	entry.Payload = encodePayload(map[string]interface{}{
		"error": err.Error(),
	})
	if auditErr := audit.Append(context.WithoutCancel(ctx), entry); auditErr != nil {
		logger.Error("Failed to audit internal error", "error", auditErr, "cause", err)
	}

	if appErr != nil {
		return appErr
	}
	return apperror.Internal(err, "%s", err.Error())
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
