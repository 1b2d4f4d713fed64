package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Currency string          `json:"currency" validate:"required,currency"`
	Amount   decimal.Decimal `json:"amount" validate:"positive"`
	Fee      decimal.Decimal `json:"fee" validate:"nonnegative"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name    string
		input   sample
		wantErr string
	}{
		{
			name:  "valid",
			input: sample{Currency: "USD", Amount: decimal.RequireFromString("10.50"), Fee: decimal.Zero},
		},
		{
			name:    "lowercase currency",
			input:   sample{Currency: "usd", Amount: decimal.NewFromInt(1)},
			wantErr: "currency failed currency",
		},
		{
			name:    "zero amount is not positive",
			input:   sample{Currency: "EUR", Amount: decimal.Zero},
			wantErr: "amount failed positive",
		},
		{
			name:    "negative fee",
			input:   sample{Currency: "EUR", Amount: decimal.NewFromInt(1), Fee: decimal.RequireFromString("-0.01")},
			wantErr: "fee failed nonnegative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.input)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "late invoice", SanitizeString("  late\x00 invoice\x7f\n"))
	assert.Equal(t, "", SanitizeString("\t\r\n"))
}

func TestNewLogger_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "server.log")
	logger, err := NewLogger(LoggerConfig{Level: "bogus", OutputPath: path, Format: "json"})
	require.NoError(t, err)

	logger.Debug("dropped below info")
	logger.Info("batch completed")
	require.NoError(t, logger.Sync())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"msg":"batch completed"`)
	assert.Contains(t, string(content), `"timestamp"`)
	assert.NotContains(t, string(content), "dropped below info")
	assert.Contains(t, string(content), `"service":"spend-reconciliation"`)
}

func TestNewLogger_CustomService(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.log")
	logger, err := NewLogger(LoggerConfig{Level: "debug", OutputPath: path, Format: "json", Service: "recon-worker"})
	require.NoError(t, err)

	logger.Debug("scheduler tick")
	require.NoError(t, logger.Sync())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"service":"recon-worker"`)
	assert.Contains(t, string(content), `"msg":"scheduler tick"`)
}
