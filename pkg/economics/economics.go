// Package economics computes the projected exposure impact of an order at
// decision time. The calculator is a pure function of its inputs, so any
// reviewer can recompute a snapshot independently; its integrity guarantee
// comes from being hashed into the audit chain payload, not from separate
// storage.
package economics

import (
	"github.com/shopspring/decimal"

	"github.com/brokerops/core/pkg/contracts"
)

// PriceSource records where the decision-time price came from.
type PriceSource string

const (
	PriceSourceFirm        PriceSource = "FIRM"
	PriceSourceIndicative  PriceSource = "INDICATIVE"
	PriceSourceUnavailable PriceSource = "UNAVAILABLE"
)

// DefaultCurrency denominates all aggregate sums.
const DefaultCurrency = "USD"

// CurrencyValidation flags non-USD snapshots. Unsupported currencies are
// warned about and excluded from USD aggregates, never rejected.
type CurrencyValidation struct {
	Supported bool   `json:"supported"`
	Warning   string `json:"warning,omitempty"`
}

// Input is everything the calculator needs. OrderPrice is the explicit
// price on the order; ReferencePrice is an indicative market price used
// when the order has none. Both nil means no price is available.
type Input struct {
	Decision       contracts.Decision
	Qty            decimal.Decimal
	OrderPrice     *decimal.Decimal
	ReferencePrice *decimal.Decimal
	ExposurePre    decimal.Decimal
	Currency       string
}

// Snapshot is the computed economics at decision time.
//
// For ALLOW decisions the notional flows into projected_exposure_delta and
// exposure_post; for BLOCK decisions it flows into saved_exposure and the
// exposure fields stay untouched — a blocked order never changes exposure.
type Snapshot struct {
	DecisionTimePrice      *decimal.Decimal   `json:"decision_time_price"`
	Qty                    decimal.Decimal    `json:"qty"`
	Notional               *decimal.Decimal   `json:"notional"`
	ProjectedExposureDelta *decimal.Decimal   `json:"projected_exposure_delta"`
	SavedExposure          *decimal.Decimal   `json:"saved_exposure"`
	PriceSource            PriceSource        `json:"price_source"`
	PriceUnavailable       bool               `json:"price_unavailable"`
	ExposurePre            decimal.Decimal    `json:"exposure_pre"`
	ExposurePost           *decimal.Decimal   `json:"exposure_post"`
	Currency               string             `json:"currency"`
	CurrencyValidation     CurrencyValidation `json:"currency_validation"`
}

// ValidateCurrency checks whether a currency participates in USD
// aggregates. Warn-only: callers record the snapshot either way.
func ValidateCurrency(currency string) CurrencyValidation {
	if currency == "" || currency == DefaultCurrency {
		return CurrencyValidation{Supported: true}
	}
	return CurrencyValidation{
		Supported: false,
		Warning:   "currency " + currency + " is not USD; excluded from USD-denominated aggregates",
	}
}

// ComputeSnapshot derives the snapshot economics for one decision.
func ComputeSnapshot(in Input) Snapshot {
	currency := in.Currency
	if currency == "" {
		currency = DefaultCurrency
	}

	snap := Snapshot{
		Qty:                in.Qty,
		ExposurePre:        in.ExposurePre,
		Currency:           currency,
		CurrencyValidation: ValidateCurrency(currency),
	}

	switch {
	case in.OrderPrice != nil:
		snap.DecisionTimePrice = in.OrderPrice
		snap.PriceSource = PriceSourceFirm
	case in.ReferencePrice != nil:
		snap.DecisionTimePrice = in.ReferencePrice
		snap.PriceSource = PriceSourceIndicative
	default:
		snap.PriceSource = PriceSourceUnavailable
		snap.PriceUnavailable = true
		return snap
	}

	notional := in.Qty.Mul(*snap.DecisionTimePrice)
	snap.Notional = &notional

	if in.Decision == contracts.DecisionBlock {
		snap.SavedExposure = &notional
		return snap
	}

	delta := notional
	post := in.ExposurePre.Add(notional)
	snap.ProjectedExposureDelta = &delta
	snap.ExposurePost = &post
	return snap
}

// Aggregate summarizes saved exposure across blocked decisions.
type Aggregate struct {
	SavedExposure decimal.Decimal `json:"saved_exposure"`
	BlockedCount  int             `json:"blocked_count"`
	ExcludedCount int             `json:"excluded_count"`
}

// AggregateSavedExposure sums saved_exposure over USD snapshots only.
// Non-USD entries are counted as excluded rather than silently mixed into
// a single-currency total.
func AggregateSavedExposure(snapshots []Snapshot) Aggregate {
	var agg Aggregate
	for _, s := range snapshots {
		if s.SavedExposure == nil {
			continue
		}
		agg.BlockedCount++
		if s.Currency != DefaultCurrency {
			agg.ExcludedCount++
			continue
		}
		agg.SavedExposure = agg.SavedExposure.Add(*s.SavedExposure)
	}
	return agg
}
