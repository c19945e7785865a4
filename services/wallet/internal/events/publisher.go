package events

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/saini-30/chargemint/libs/kafka"
	"github.com/saini-30/chargemint/services/wallet/internal/ledger"
)

const (
	LedgerEntriesTopic   = "ledger.entries"
	BalancesUpdatedTopic = "balances.updated"

	ledgerEntriesEventType   = "ledger.entries"
	balancesUpdatedEventType = "balances.updated"

	eventSource = "wallet-service"
)

type LedgerEntryEvent struct {
	EntryID     string `json:"entry_id"`
	Kind        string `json:"kind"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Reference   string `json:"reference,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type LedgerEntriesEvent struct {
	kafka.Envelope
	AccountID string             `json:"account_id"`
	Version   int64              `json:"version"`
	Entries   []LedgerEntryEvent `json:"entries"`
}

type WithdrawalUpdate struct {
	WithdrawalID string `json:"withdrawal_id"`
	Amount       string `json:"amount"`
	Status       string `json:"status"`
}

type BalancesUpdatedEvent struct {
	kafka.Envelope
	AccountID          string             `json:"account_id"`
	Version            int64              `json:"version"`
	Balance            string             `json:"balance"`
	ROIEarnings        string             `json:"roi_earnings"`
	CommissionEarnings string             `json:"commission_earnings"`
	TotalTopUp         string             `json:"total_top_up"`
	PendingTopUp       string             `json:"pending_top_up"`
	DailyRate          string             `json:"daily_rate"`
	TotalReturned      string             `json:"total_returned"`
	IsActive           bool               `json:"is_active"`
	Withdrawals        []WithdrawalUpdate `json:"withdrawals,omitempty"`
	UpdatedAt          string             `json:"updated_at"`
}

// Publisher emits the committed change set of an account. Event ids derive from the
// account id and version, so a republished change deduplicates downstream.
type Publisher struct {
	producer kafka.Publisher
	logger   *slog.Logger
}

func NewPublisher(producer kafka.Publisher, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{producer: producer, logger: logger}
}

// PublishAccountChange publishes a's new transactions and its wallet snapshot. A nil
// producer makes it a no-op.
func (p *Publisher) PublishAccountChange(ctx context.Context, correlationID string, a *ledger.Account) error {
	if p == nil || p.producer == nil || a == nil {
		return nil
	}
	accountID := a.ID.String()
	version := strconv.FormatInt(a.Version, 10)
	if correlationID == "" {
		correlationID = accountID + ":" + version
	}

	if txs := a.NewTransactions(); len(txs) > 0 {
		entries := make([]LedgerEntryEvent, 0, len(txs))
		for _, tx := range txs {
			entries = append(entries, LedgerEntryEvent{
				EntryID:     tx.ID.String(),
				Kind:        string(tx.Kind),
				Amount:      tx.Amount.String(),
				Description: tx.Description,
				Status:      string(tx.Status),
				Reference:   tx.Reference,
				CreatedAt:   tx.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		eventID := kafka.DeterministicEventID(ledgerEntriesEventType, accountID, version)
		env, err := kafka.NewEnvelopeWithID(eventID, ledgerEntriesEventType, 1, correlationID)
		if err != nil {
			return err
		}
		env = env.WithSource(eventSource)
		payload := LedgerEntriesEvent{
			Envelope:  env,
			AccountID: accountID,
			Version:   a.Version,
			Entries:   entries,
		}
		if _, _, err := p.producer.PublishJSON(ctx, LedgerEntriesTopic, accountID, payload); err != nil {
			return err
		}
	}

	eventID := kafka.DeterministicEventID(balancesUpdatedEventType, accountID, version)
	env, err := kafka.NewEnvelopeWithID(eventID, balancesUpdatedEventType, 1, correlationID)
	if err != nil {
		return err
	}
	env = env.WithSource(eventSource)
	payload := BalancesUpdatedEvent{
		Envelope:           env,
		AccountID:          accountID,
		Version:            a.Version,
		Balance:            a.Wallet.Balance.String(),
		ROIEarnings:        a.Wallet.ROIEarnings.String(),
		CommissionEarnings: a.Wallet.CommissionEarnings.String(),
		TotalTopUp:         a.Wallet.TotalTopUp.String(),
		PendingTopUp:       a.Wallet.PendingTopUp.String(),
		DailyRate:          a.ROI.DailyRate.String(),
		TotalReturned:      a.ROI.TotalReturned.String(),
		IsActive:           a.ROI.IsActive,
		UpdatedAt:          a.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, w := range a.ChangedWithdrawals() {
		payload.Withdrawals = append(payload.Withdrawals, WithdrawalUpdate{
			WithdrawalID: w.ID.String(),
			Amount:       w.Amount.String(),
			Status:       string(w.Status),
		})
	}
	if _, _, err := p.producer.PublishJSON(ctx, BalancesUpdatedTopic, accountID, payload); err != nil {
		return err
	}
	return nil
}
