package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/eriklieben/es-go/pkg/es"
)

// classify maps a raw pgx/Postgres error to the C12 backend-status taxonomy
// (spec.md §4.1 "Failure model"). Grounded on the teacher's isConcurrencyError
// (pkg/dcb/append.go), which inspects pgconn.PgError.Code the same way,
// generalized from one hard-coded code to the full taxonomy.
func classify(err error) es.BackendStatus {
	if err == nil {
		return es.StatusOK
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return es.StatusTransient
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation: our own conditional-create CAS collision
			return es.StatusConflict
		case "40001": // serialization_failure
			return es.StatusConflict
		case "53300", "53400": // too_many_connections, configuration_limit_exceeded
			return es.StatusThrottled
		case "57014": // query_canceled
			return es.StatusTransient
		case "42P01": // undefined_table
			return es.StatusFatal
		}
		// Class 08 (connection exception) is always transient.
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" {
			return es.StatusTransient
		}
	}

	if es.IsConcurrencyError(err) || es.IsStreamClosedError(err) || es.IsValidationError(err) {
		return es.StatusFatal
	}

	return es.StatusTransient
}

// RegisterClassifier installs this package's classifier as the process-wide
// C12 backend-error classifier (spec.md §5 "register once").
func RegisterClassifier() {
	es.RegisterBackendErrorClassifier(classify)
}
