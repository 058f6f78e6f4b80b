package metrics

import (
	"github.com/medflow/pharmacy-inventory/pkg/errors"
)

// Outcome turns an operation result into a low-cardinality label
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "error"
}
