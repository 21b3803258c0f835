package economics

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/brokerops/core/pkg/chain"
	"github.com/brokerops/core/pkg/idempotency"
)

// Event is an externally sourced economic lifecycle event, as posted by
// execution adapters (MT5 deals, reconciliation jobs, position closes).
type Event struct {
	TraceID      string          `json:"trace_id"`
	Type         string          `json:"type"`
	EventID      string          `json:"event_id"`
	Source       string          `json:"source"`
	GrossRevenue decimal.Decimal `json:"gross_revenue"`
	Fees         decimal.Decimal `json:"fees"`
	Costs        decimal.Decimal `json:"costs"`
	Currency     string          `json:"currency"`
}

// RecordOutcome reports how an event landed.
type RecordOutcome struct {
	Applied         bool                `json:"applied"`
	PayloadMismatch bool                `json:"payload_mismatch"`
	Idempotency     idempotency.Result  `json:"idempotency"`
	Chain           *chain.AppendResult `json:"chain,omitempty"`
}

// Ledger ingests economic events exactly once and records each applied
// event on the trace's audit chain.
type Ledger struct {
	idem     idempotency.Store
	appender *chain.Appender
	logger   *slog.Logger
}

// NewLedger wires the ingest path.
func NewLedger(idem idempotency.Store, appender *chain.Appender) *Ledger {
	return &Ledger{idem: idem, appender: appender, logger: slog.Default()}
}

// WithLogger overrides the default logger.
func (l *Ledger) WithLogger(logger *slog.Logger) *Ledger {
	l.logger = logger
	return l
}

// eventVersion of the ECONOMIC_EVENT audit payload.
const eventVersion = "1"

// Record applies ev at most once. Retried deliveries with an identical
// payload return the first outcome without touching the chain again;
// deliveries that reuse the event id with different content are refused.
func (l *Ledger) Record(ctx context.Context, ev Event) (RecordOutcome, error) {
	if ev.TraceID == "" {
		return RecordOutcome{}, fmt.Errorf("economics: event has no trace id")
	}
	key := idempotency.Key{SourceSystem: ev.Source, EventType: ev.Type, EventID: ev.EventID}

	idemRes, err := l.idem.Record(ctx, key, ev, nil)
	if err != nil {
		return RecordOutcome{}, err
	}
	if idemRes.PayloadMismatch {
		l.logger.Warn("economic event refused: payload mismatch on replay",
			"key", key.String(), "trace_id", ev.TraceID)
		return RecordOutcome{PayloadMismatch: true, Idempotency: idemRes}, nil
	}
	if !idemRes.Accepted {
		return RecordOutcome{Idempotency: idemRes}, nil
	}

	appendRes, err := l.appender.Append(ctx, ev.TraceID, "ECONOMIC_EVENT", eventVersion, ev)
	if err != nil {
		// Release the key, otherwise every retry lands on the replay path
		// and the event never reaches the chain.
		if rmErr := l.idem.Remove(ctx, key); rmErr != nil {
			l.logger.Error("economic event stranded: idempotency rollback failed",
				"key", key.String(), "trace_id", ev.TraceID, "err", rmErr)
		}
		return RecordOutcome{}, fmt.Errorf("economics: chain append: %w", err)
	}
	l.logger.Info("economic event recorded",
		"key", key.String(), "trace_id", ev.TraceID, "hash", appendRes.Hash)
	return RecordOutcome{Applied: true, Idempotency: idemRes, Chain: &appendRes}, nil
}
