package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/saini-30/chargemint/services/wallet/internal/ledger"
	"github.com/shopspring/decimal"
)

type publishedMessage struct {
	topic string
	key   string
	value any
}

type fakePublisher struct {
	messages []publishedMessage
	err      error
}

func (f *fakePublisher) PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error) {
	if f.err != nil {
		return 0, 0, f.err
	}
	f.messages = append(f.messages, publishedMessage{topic: topic, key: key, value: value})
	return 0, int64(len(f.messages)), nil
}

func (f *fakePublisher) Close() error { return nil }

func changedAccount(t *testing.T) *ledger.Account {
	t.Helper()
	now := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)
	a := ledger.NewAccount(uuid.New(), "EVNT0001", "", now)
	if _, err := a.ConfirmTopUp(decimal.NewFromInt(100), "pay_1", now); err != nil {
		t.Fatalf("topup: %v", err)
	}
	a.Version = 3
	return a
}

func TestPublishAccountChange(t *testing.T) {
	fake := &fakePublisher{}
	pub := NewPublisher(fake, nil)
	a := changedAccount(t)

	if err := pub.PublishAccountChange(context.Background(), "corr-1", a); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fake.messages) != 2 {
		t.Fatalf("expected entries and balances, got %d", len(fake.messages))
	}

	entries, ok := fake.messages[0].value.(LedgerEntriesEvent)
	if !ok || fake.messages[0].topic != LedgerEntriesTopic {
		t.Fatalf("expected ledger entries first, got %s", fake.messages[0].topic)
	}
	if fake.messages[0].key != a.ID.String() {
		t.Fatalf("expected account key")
	}
	if len(entries.Entries) != 1 || entries.Entries[0].Kind != "topup" || entries.Entries[0].Amount != "100" {
		t.Fatalf("unexpected entries %+v", entries.Entries)
	}
	if entries.CorrelationID != "corr-1" || entries.Version != 3 || entries.Source != "wallet-service" {
		t.Fatalf("unexpected envelope %+v", entries.Envelope)
	}

	balances, ok := fake.messages[1].value.(BalancesUpdatedEvent)
	if !ok || balances.Balance != "100" || balances.TotalTopUp != "100" || balances.Source != "wallet-service" {
		t.Fatalf("unexpected balances %+v", balances)
	}
}

func TestPublishAccountChangeDeterministicIDs(t *testing.T) {
	fake := &fakePublisher{}
	pub := NewPublisher(fake, nil)
	a := changedAccount(t)

	_ = pub.PublishAccountChange(context.Background(), "", a)
	_ = pub.PublishAccountChange(context.Background(), "", a)

	first := fake.messages[0].value.(LedgerEntriesEvent)
	second := fake.messages[2].value.(LedgerEntriesEvent)
	if first.EventID != second.EventID {
		t.Fatalf("expected same event id for same version")
	}
}

func TestPublishAccountChangeWithoutProducer(t *testing.T) {
	pub := NewPublisher(nil, nil)
	if err := pub.PublishAccountChange(context.Background(), "", changedAccount(t)); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestPublishAccountChangeError(t *testing.T) {
	fake := &fakePublisher{err: errors.New("broker down")}
	pub := NewPublisher(fake, nil)
	if err := pub.PublishAccountChange(context.Background(), "", changedAccount(t)); err == nil {
		t.Fatalf("expected error")
	}
}
