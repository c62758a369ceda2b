package engine

import (
	"errors"

	"stocksim/internal/store"
)

// Order rejections and failures. Every error returned by Engine wraps
// exactly one of these.
var (
	ErrValidation         = errors.New("credential does not resolve to a user")
	ErrStockNotFound      = errors.New("stock not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrServer             = errors.New("server error")
	ErrInvalidOrder       = errors.New("invalid order")
)

// Outcome is the single result reported to the presentation layer for a
// trade request.
type Outcome string

const (
	OutcomeSuccess                Outcome = "SUCCESS"
	OutcomeValidationFailed       Outcome = "VALIDATION_FAILED"
	OutcomeStockNotFound          Outcome = "STOCK_NOT_FOUND"
	OutcomeInsufficientFunds      Outcome = "INSUFFICIENT_FUNDS"
	OutcomeInsufficientMarginCall Outcome = "INSUFFICIENT_MARGIN_CALL"
	OutcomeInvalidOrder           Outcome = "INVALID_ORDER"
	OutcomeServerError            Outcome = "SERVER_ERROR"
)

// Classify maps err to its Outcome. Anything unrecognised is a server error.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrValidation), errors.Is(err, store.ErrInvalidCredential):
		return OutcomeValidationFailed
	case errors.Is(err, ErrStockNotFound):
		return OutcomeStockNotFound
	case errors.Is(err, ErrInsufficientFunds):
		return OutcomeInsufficientFunds
	case errors.Is(err, ErrInsufficientMargin):
		return OutcomeInsufficientMarginCall
	case errors.Is(err, ErrInvalidOrder):
		return OutcomeInvalidOrder
	default:
		return OutcomeServerError
	}
}

// Rejected reports whether err is a business-rule rejection rather than a
// system fault.
func Rejected(err error) bool {
	o := Classify(err)
	return o != OutcomeSuccess && o != OutcomeServerError
}

// ErrorFor returns the sentinel error behind o, or nil for success.
func ErrorFor(o Outcome) error {
	switch o {
	case OutcomeSuccess:
		return nil
	case OutcomeValidationFailed:
		return ErrValidation
	case OutcomeStockNotFound:
		return ErrStockNotFound
	case OutcomeInsufficientFunds:
		return ErrInsufficientFunds
	case OutcomeInsufficientMarginCall:
		return ErrInsufficientMargin
	case OutcomeInvalidOrder:
		return ErrInvalidOrder
	default:
		return ErrServer
	}
}
