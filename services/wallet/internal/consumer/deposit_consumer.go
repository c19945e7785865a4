package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/saini-30/chargemint/libs/kafka"
	"github.com/saini-30/chargemint/services/wallet/internal/ledger"
	"github.com/saini-30/chargemint/services/wallet/internal/payment"
	"github.com/saini-30/chargemint/services/wallet/internal/service"
	"github.com/saini-30/chargemint/services/wallet/internal/storage"
	"github.com/shopspring/decimal"
)

const (
	PaymentsConfirmedTopic     = "payments.confirmed"
	paymentsConfirmedEventType = "payments.confirmed"
)

type PaymentConfirmedEvent struct {
	kafka.Envelope
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

func (e PaymentConfirmedEvent) Validate() error {
	if err := e.Envelope.Validate(); err != nil {
		return err
	}
	if e.EventType != paymentsConfirmedEventType {
		return fmt.Errorf("unexpected event_type %q", e.EventType)
	}
	return nil
}

type DepositConfirmer interface {
	ConfirmDeposit(ctx context.Context, c payment.Confirmation) (service.DepositResult, error)
}

// DepositConsumer applies gateway confirmations from the payments.confirmed topic.
// Messages that can never succeed are routed to the DLQ; anything else is retried.
type DepositConsumer struct {
	deposits DepositConfirmer
	logger   *slog.Logger
}

func NewDepositConsumer(deposits DepositConfirmer, logger *slog.Logger) *DepositConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &DepositConsumer{deposits: deposits, logger: logger}
}

func (c *DepositConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil || len(msg.Value) == 0 {
		return kafka.DLQ(fmt.Errorf("empty kafka message"), kafka.ReasonEmptyMessage)
	}
	var event PaymentConfirmedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return kafka.DLQ(fmt.Errorf("decode payments.confirmed: %w", err), kafka.ReasonDecodeFailed)
	}
	if err := event.Validate(); err != nil {
		return kafka.DLQ(err, kafka.ReasonInvalidEnvelope)
	}

	accountID, err := uuid.Parse(strings.TrimSpace(event.AccountID))
	if err != nil {
		return kafka.DLQ(fmt.Errorf("invalid account_id: %w", err), kafka.ReasonInvalidPayload)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(event.Amount))
	if err != nil {
		return kafka.DLQ(fmt.Errorf("invalid amount: %w", err), kafka.ReasonInvalidPayload)
	}

	confirmation := payment.Confirmation{
		AccountID: accountID,
		Amount:    amount,
		OrderID:   strings.TrimSpace(event.OrderID),
		PaymentID: strings.TrimSpace(event.PaymentID),
		Signature: strings.TrimSpace(event.Signature),
	}
	res, err := c.deposits.ConfirmDeposit(ctx, confirmation)
	if err != nil {
		if reason := permanentReason(err); reason != "" {
			c.logger.Warn("payment confirmation rejected",
				"event_id", event.EventID,
				"account_id", accountID,
				"payment_id", confirmation.PaymentID,
				"reason", reason,
				"error", err,
			)
			return kafka.DLQ(err, reason)
		}
		return err
	}

	c.logger.Info("payment confirmation applied",
		"event_id", event.EventID,
		"account_id", accountID,
		"payment_id", confirmation.PaymentID,
		"replayed", res.Replayed,
		"commission_payouts", len(res.Commission.Payouts),
	)
	return nil
}

func permanentReason(err error) string {
	switch {
	case errors.Is(err, payment.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, payment.ErrInvalidConfirmation), errors.Is(err, ledger.ErrInvalidAmount):
		return kafka.ReasonInvalidPayload
	case errors.Is(err, ledger.ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, storage.ErrDepositMismatch):
		return "deposit_mismatch"
	default:
		return ""
	}
}
