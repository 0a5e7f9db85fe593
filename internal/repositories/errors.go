package repositories

import (
	"errors"
	"fmt"
)

// ErrStaleOrder is returned by OrderRepository.Patch when the stored order no longer matches the
// patch's expected status or stock flag.
var ErrStaleOrder = errors.New("order changed since it was read")

// StockErrorCode enumerates repository error causes for stock operations.
type StockErrorCode string

const (
	// StockErrorInsufficient indicates a line asked for more units than are in stock.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorProductNotFound indicates the product or variant no longer exists.
	StockErrorProductNotFound StockErrorCode = "stock_product_not_found"
	// StockErrorInvalidInput indicates a non-positive quantity or missing identifiers.
	StockErrorInvalidInput StockErrorCode = "stock_invalid_input"
)

// StockError wraps stock failures with machine readable codes and the offending product.
type StockError struct {
	Op        string
	Code      StockErrorCode
	ProductID string
	VariantID string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStockError constructs a typed stock error for the given line.
func NewStockError(code StockErrorCode, line StockLine, message string) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{
		Code:      code,
		ProductID: line.ProductID,
		VariantID: line.VariantID,
		Message:   message,
	}
}

// CouponErrorCode enumerates repository error causes for coupon redemption.
type CouponErrorCode string

const (
	// CouponErrorNotFound indicates the coupon does not exist.
	CouponErrorNotFound CouponErrorCode = "coupon_not_found"
	// CouponErrorInactive indicates the coupon exists but is switched off or outside its window.
	CouponErrorInactive CouponErrorCode = "coupon_inactive"
	// CouponErrorLimitReached indicates a global or per-user cap would be exceeded.
	CouponErrorLimitReached CouponErrorCode = "coupon_limit_reached"
)

// CouponError wraps coupon redemption failures with machine readable codes.
type CouponError struct {
	Op      string
	Code    CouponErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CouponError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *CouponError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCouponError constructs a typed coupon error.
func NewCouponError(code CouponErrorCode, message string) *CouponError {
	if message == "" {
		message = string(code)
	}
	return &CouponError{Code: code, Message: message}
}

// CounterError reports invalid counter requests.
type CounterError struct {
	CounterID string
	Message   string
}

func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("counter %s: %s", e.CounterID, e.Message)
}
