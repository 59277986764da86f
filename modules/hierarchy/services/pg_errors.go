package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNodeNotFound is the sentinel stores return when the addressed node does
// not exist for the given tenant and kind.
var ErrNodeNotFound = errors.New("node not found")

// mapStoreError lifts raw store failures into the ServiceError taxonomy.
// ServiceErrors pass through untouched so validation failures raised inside
// a transaction keep their shape.
func mapStoreError(err error) error {
	if err == nil {
		return nil
	}

	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}

	if errors.Is(err, ErrNodeNotFound) || errors.Is(err, pgx.ErrNoRows) {
		return errNotFound("node not found")
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		recordStoreFailure("timeout")
		return newServiceError(http.StatusServiceUnavailable, "HIER_STORE_UNAVAILABLE", "store timed out", err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		recordStoreFailure("connect")
		return newServiceError(http.StatusServiceUnavailable, "HIER_STORE_UNAVAILABLE", "store is unreachable", err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return newServiceError(http.StatusInternalServerError, "HIER_INTERNAL", "internal error", err)
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		recordWriteConflict("unique")
		return newServiceError(http.StatusConflict, "HIER_CONFLICT", "unique constraint violated", err)
	case "23503": // foreign_key_violation
		recordWriteConflict("foreign_key")
		return errParentNotFound("referenced node not found")
	case "40001", "40P01": // serialization_failure, deadlock_detected
		recordWriteConflict("serialization")
		return newServiceError(http.StatusConflict, "HIER_CONFLICT", "concurrent update, retry", err)
	case "57014": // query_canceled (statement_timeout)
		recordStoreFailure("timeout")
		return newServiceError(http.StatusServiceUnavailable, "HIER_STORE_UNAVAILABLE", "store timed out", err)
	case "53300", "08000", "08003", "08006": // connection failures
		recordStoreFailure("connection")
		return newServiceError(http.StatusServiceUnavailable, "HIER_STORE_UNAVAILABLE", "store is unavailable", err)
	default:
		return newServiceError(http.StatusInternalServerError, "HIER_INTERNAL", fmt.Sprintf("database error (%s)", pgErr.Code), err)
	}
}
