package database

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/lib/pq"
	"github.com/medflow/pharmacy-inventory/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	// Check constraint violation (23514)
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation (23505)
	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr))

	// Foreign key violation (23503)
	case "23503":
		return errors.BadRequest("referenced record does not exist")

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	// invalid_text_representation (22P02): a malformed UUID or number reached a query
	case "22P02":
		if strings.Contains(pqErr.Message, "uuid") {
			return errors.InvalidArgument("id", "must be a valid UUID")
		}
		return errors.InvalidArgument("input", "malformed value")

	// lock_not_available (55P03), serialization_failure (40001), deadlock_detected (40P01)
	case "55P03", "40001", "40P01":
		return errors.Busy("inventory is locked by another operation, retry")

	// query_canceled (57014): statement or lock timeout tripped
	case "57014":
		return errors.Busy("operation timed out waiting for inventory, retry")

	default:
		return nil
	}
}

// MapError returns the AppError equivalent of err when one exists, otherwise err itself.
// A context deadline inside a transaction is reported as Busy.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	if mapped := MapPQError(err); mapped != nil {
		return mapped
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Busy("operation timed out waiting for inventory, retry")
	}
	return err
}

// mapCheckConstraint maps specific CHECK constraint names to user-friendly messages.
func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.HasPrefix(constraint, "inventory_quantity_"):
		return errors.Wrap(errors.ErrInsufficientStock, "INSUFFICIENT_STOCK",
			"stock bucket would become negative", http.StatusUnprocessableEntity)

	case strings.Contains(constraint, "adjustment_type_valid"):
		return errors.Validation(map[string]string{
			"adjustment_type": "must be one of: damaged, expired, waste, correction, returned",
		})

	case strings.Contains(constraint, "alert_type_valid"):
		return errors.Validation(map[string]string{
			"alert_type": "must be one of: low_stock, critical_stock, expiry_warning, overstock",
		})

	case strings.Contains(constraint, "batch_dates"):
		return errors.Validation(map[string]string{
			"expiry_date": "must be after manufacture_date",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

// formatConstraintMessage creates a user-friendly message for unique constraint violations.
func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "batch_number"):
		return "a batch with this batch number already exists for the medicine"
	case strings.Contains(constraint, "active_alert"):
		return "an active alert of this type already exists"
	case strings.Contains(constraint, "inventory_medicine_batch"):
		return "an inventory record already exists for this batch"
	default:
		return "a record with these values already exists"
	}
}
