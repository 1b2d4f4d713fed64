package repository

import (
	"database/sql"
	"strings"
	"time"

	"github.com/garyjia/spend-reconciliation/internal/domain/entity"
)

// Calendar days are stored as TEXT "YYYY-MM-DD"; timestamps as DATETIME in UTC.

func dateString(t time.Time) string {
	return t.Format(entity.DateLayout)
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: dateString(*t), Valid: true}
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(entity.DateLayout, s)
}

func datePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// inClause returns "?, ?, ?" and the matching args
func inClause[T any](values []T) (string, []interface{}) {
	placeholders := make([]string, len(values))
	args := make([]interface{}, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args[i] = v
	}
	return strings.Join(placeholders, ", "), args
}
