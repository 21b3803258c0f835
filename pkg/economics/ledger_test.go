package economics

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/brokerops/core/pkg/chain"
	"github.com/brokerops/core/pkg/idempotency"
)

func testEvent() Event {
	return Event{
		TraceID:      "demo-order-001",
		Type:         "TRADE_EXECUTED",
		EventID:      "deal-12345678",
		Source:       "mt5",
		GrossRevenue: decimal.RequireFromString("12.50"),
		Fees:         decimal.RequireFromString("0.50"),
		Costs:        decimal.RequireFromString("0.10"),
		Currency:     "USD",
	}
}

func TestLedgerRecordOnce(t *testing.T) {
	chainStore := chain.NewMemoryStore()
	ledger := NewLedger(idempotency.NewMemoryStore(), chain.NewAppender(chainStore))
	ctx := context.Background()

	// Retried delivery: five identical posts, one applied event.
	var applied int
	for i := 0; i < 5; i++ {
		out, err := ledger.Record(ctx, testEvent())
		if err != nil {
			t.Fatal(err)
		}
		if out.PayloadMismatch {
			t.Fatalf("identical retry must not mismatch: %+v", out)
		}
		if out.Applied {
			applied++
		}
	}
	if applied != 1 {
		t.Fatalf("expected exactly one applied event, got %d", applied)
	}

	events, err := chainStore.Events(ctx, "demo-order-001")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("retries must not append to the chain, got %d events", len(events))
	}
	if events[0].EventType != "ECONOMIC_EVENT" {
		t.Fatalf("unexpected event type %s", events[0].EventType)
	}
	if v := chain.VerifyChain(events); !v.Valid {
		t.Fatalf("chain must verify, got %+v", v)
	}
}

// insertFailingStore errors the first Insert, then delegates.
type insertFailingStore struct {
	chain.Store
	failed bool
}

func (s *insertFailingStore) Insert(ctx context.Context, ev chain.AuditEvent, expectedPrev string) (int64, error) {
	if !s.failed {
		s.failed = true
		return 0, errors.New("connection reset by peer")
	}
	return s.Store.Insert(ctx, ev, expectedPrev)
}

func TestLedgerRetryAfterAppendFailure(t *testing.T) {
	memStore := chain.NewMemoryStore()
	flaky := &insertFailingStore{Store: memStore}
	ledger := NewLedger(idempotency.NewMemoryStore(), chain.NewAppender(flaky))
	ctx := context.Background()

	if _, err := ledger.Record(ctx, testEvent()); err == nil {
		t.Fatal("expected the first delivery to fail on the chain append")
	}

	// The failed delivery must not poison the key: the retry is a fresh
	// apply, not a replay of an event that never reached the chain.
	out, err := ledger.Record(ctx, testEvent())
	if err != nil {
		t.Fatal(err)
	}
	if !out.Applied || out.PayloadMismatch {
		t.Fatalf("retry after a transient append failure must apply, got %+v", out)
	}

	events, err := memStore.Events(ctx, "demo-order-001")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one chain event after the retry, got %d", len(events))
	}
}

func TestLedgerRefusesReusedEventID(t *testing.T) {
	chainStore := chain.NewMemoryStore()
	ledger := NewLedger(idempotency.NewMemoryStore(), chain.NewAppender(chainStore))
	ctx := context.Background()

	if _, err := ledger.Record(ctx, testEvent()); err != nil {
		t.Fatal(err)
	}

	reused := testEvent()
	reused.GrossRevenue = decimal.RequireFromString("9999")
	out, err := ledger.Record(ctx, reused)
	if err != nil {
		t.Fatal(err)
	}
	if !out.PayloadMismatch || out.Applied {
		t.Fatalf("reused event id with different content must be refused, got %+v", out)
	}

	events, _ := chainStore.Events(ctx, "demo-order-001")
	if len(events) != 1 {
		t.Fatalf("refused event must not reach the chain, got %d events", len(events))
	}
}
