package domain

import "errors"

// Closed error taxonomy for the payment core. Every boundary translates
// these exhaustively; unknown errors are treated as internal failures.
var (
	ErrValidation           = errors.New("invalid purchase request")
	ErrInvalidTier          = errors.New("unknown delivery tier")
	ErrItemUnavailable      = errors.New("catalog item unavailable")
	ErrZeroAmount           = errors.New("total amount must be positive")
	ErrDuplicateID          = errors.New("transaction id already exists")
	ErrNotFound             = errors.New("transaction not found")
	ErrForbidden            = errors.New("transaction belongs to another user")
	ErrNotRefundable        = errors.New("only completed transactions can be refunded")
	ErrStorageUnavailable   = errors.New("transaction store is unavailable")
	ErrReconciliationFailed = errors.New("status transition failed after retries")
)
