package payment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrInvalidConfirmation = errors.New("invalid payment confirmation")

// Confirmation is the gateway's notice that a payment settled. It arrives on the
// payments.confirmed topic or through the verify endpoint.
type Confirmation struct {
	AccountID uuid.UUID       `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	OrderID   string          `json:"order_id"`
	PaymentID string          `json:"payment_id"`
	Signature string          `json:"signature"`
}

func (c Confirmation) Validate() error {
	switch {
	case c.AccountID == uuid.Nil:
		return fmt.Errorf("%w: account_id is required", ErrInvalidConfirmation)
	case !c.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrInvalidConfirmation)
	case strings.TrimSpace(c.OrderID) == "":
		return fmt.Errorf("%w: order_id is required", ErrInvalidConfirmation)
	case strings.TrimSpace(c.PaymentID) == "":
		return fmt.Errorf("%w: payment_id is required", ErrInvalidConfirmation)
	}
	return nil
}

// NewOrderID returns a gateway-style order id for a deposit intent.
func NewOrderID() string {
	return "order_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
