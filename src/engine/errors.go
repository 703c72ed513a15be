package engine

import (
	"errors"
	"fmt"

	"spot-engine/src/ledger"
	"spot-engine/src/models"
)

var (
	ErrMarketNotFound = errors.New("market not found")
	ErrInvalidCommand = errors.New("invalid command")
	ErrStateMismatch  = errors.New("ledger and books disagree")
)

// ValidationError is a malformed command field. It matches ErrInvalidCommand.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid command: " + e.Message
	}
	return "invalid command: " + e.Field + " " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidCommand
}

// SettlementError is a fill the ledger could not settle after the book had
// already matched it. It matches ErrStateMismatch.
type SettlementError struct {
	TradeID uint64
	Market  string
	Err     error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settle trade %d on %s: %v", e.TradeID, e.Market, e.Err)
}

func (e *SettlementError) Unwrap() error { return e.Err }

func (e *SettlementError) Is(target error) bool {
	return target == ErrStateMismatch
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrMarketNotFound):
		return models.CodeMarketNotFound
	case errors.Is(err, ErrOrderNotFound):
		return models.CodeOrderNotFound
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return models.CodeInsufficientFunds
	default:
		return models.CodeInvalidCommand
	}
}

func errorResponse(err error) *models.Response {
	r := models.NewResponse(models.Error, models.ErrorPayload{
		Code:    errorCode(err),
		Message: err.Error(),
	})
	return &r
}
