package services

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	hierarchy "github.com/iota-uz/orgtree/modules/hierarchy/services"
)

// mapRepoError lifts repository failures into the shared ServiceError
// shape. Hierarchy engine errors already carry it and pass through.
func mapRepoError(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *hierarchy.ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	if errors.Is(err, ErrAssignmentNotFound) || errors.Is(err, pgx.ErrNoRows) {
		return errAsg(http.StatusNotFound, "ASG_NOT_FOUND", "assignment not found")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return errAsg(http.StatusConflict, "ASG_CONFLICT", "assignment already exists")
		case "23503":
			return errAsg(http.StatusNotFound, "ASG_NODE_NOT_FOUND", "node not found")
		}
	}
	return &hierarchy.ServiceError{Status: http.StatusInternalServerError, Code: "ASG_INTERNAL", Message: "internal error", Cause: err}
}
