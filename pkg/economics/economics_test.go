package economics

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/brokerops/core/pkg/contracts"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decp(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestComputeSnapshotAllow(t *testing.T) {
	snap := ComputeSnapshot(Input{
		Decision:    contracts.DecisionAllow,
		Qty:         dec("100"),
		OrderPrice:  decp("150.25"),
		ExposurePre: dec("10000"),
	})

	if snap.PriceSource != PriceSourceFirm {
		t.Fatalf("explicit order price must be FIRM, got %s", snap.PriceSource)
	}
	if snap.Notional == nil || !snap.Notional.Equal(dec("15025")) {
		t.Fatalf("expected notional 15025, got %v", snap.Notional)
	}
	if snap.ProjectedExposureDelta == nil || !snap.ProjectedExposureDelta.Equal(dec("15025")) {
		t.Fatalf("ALLOW must project the notional as exposure delta, got %v", snap.ProjectedExposureDelta)
	}
	if snap.SavedExposure != nil {
		t.Fatal("ALLOW must leave saved_exposure null")
	}
	if snap.ExposurePost == nil || !snap.ExposurePost.Equal(dec("25025")) {
		t.Fatalf("expected exposure_post 25025, got %v", snap.ExposurePost)
	}
	if snap.Currency != "USD" {
		t.Fatalf("currency must default to USD, got %s", snap.Currency)
	}
}

func TestComputeSnapshotBlock(t *testing.T) {
	snap := ComputeSnapshot(Input{
		Decision:    contracts.DecisionBlock,
		Qty:         dec("10"),
		OrderPrice:  decp("99.50"),
		ExposurePre: dec("5000"),
	})

	if snap.SavedExposure == nil || !snap.SavedExposure.Equal(dec("995")) {
		t.Fatalf("BLOCK must record saved_exposure qty*price, got %v", snap.SavedExposure)
	}
	if snap.ProjectedExposureDelta != nil {
		t.Fatal("BLOCK must leave projected_exposure_delta null")
	}
	if snap.ExposurePost != nil {
		t.Fatal("a blocked order never changes exposure")
	}
}

func TestComputeSnapshotIndicativePrice(t *testing.T) {
	snap := ComputeSnapshot(Input{
		Decision:       contracts.DecisionAllow,
		Qty:            dec("5"),
		ReferencePrice: decp("20"),
	})
	if snap.PriceSource != PriceSourceIndicative {
		t.Fatalf("reference price must be INDICATIVE, got %s", snap.PriceSource)
	}
	if snap.Notional == nil || !snap.Notional.Equal(dec("100")) {
		t.Fatalf("expected notional 100, got %v", snap.Notional)
	}
}

func TestComputeSnapshotNoPrice(t *testing.T) {
	snap := ComputeSnapshot(Input{
		Decision: contracts.DecisionAllow,
		Qty:      dec("5"),
	})
	if snap.PriceSource != PriceSourceUnavailable || !snap.PriceUnavailable {
		t.Fatalf("missing price must be UNAVAILABLE, got %+v", snap)
	}
	if snap.Notional != nil {
		t.Fatal("notional must be null without a price")
	}
	if snap.ProjectedExposureDelta != nil || snap.SavedExposure != nil || snap.ExposurePost != nil {
		t.Fatal("no exposure arithmetic without a price")
	}
}

func TestComputeSnapshotZeroPriceIsFirm(t *testing.T) {
	zero := decimal.Zero
	snap := ComputeSnapshot(Input{
		Decision:   contracts.DecisionAllow,
		Qty:        dec("5"),
		OrderPrice: &zero,
	})
	if snap.PriceSource != PriceSourceFirm || snap.PriceUnavailable {
		t.Fatalf("zero is a valid firm price, got %+v", snap)
	}
	if snap.Notional == nil || !snap.Notional.IsZero() {
		t.Fatalf("expected zero notional, got %v", snap.Notional)
	}
}

func TestValidateCurrency(t *testing.T) {
	if v := ValidateCurrency("USD"); !v.Supported || v.Warning != "" {
		t.Fatalf("USD must be supported, got %+v", v)
	}
	if v := ValidateCurrency(""); !v.Supported {
		t.Fatalf("empty currency defaults to USD, got %+v", v)
	}
	v := ValidateCurrency("EUR")
	if v.Supported || v.Warning == "" {
		t.Fatalf("EUR must warn without rejecting, got %+v", v)
	}
}

func TestAggregateSavedExposureCurrencyFilter(t *testing.T) {
	usdBlocked := ComputeSnapshot(Input{Decision: contracts.DecisionBlock, Qty: dec("10"), OrderPrice: decp("100")})
	eurBlocked := ComputeSnapshot(Input{Decision: contracts.DecisionBlock, Qty: dec("10"), OrderPrice: decp("100"), Currency: "EUR"})
	allowed := ComputeSnapshot(Input{Decision: contracts.DecisionAllow, Qty: dec("1"), OrderPrice: decp("50")})

	agg := AggregateSavedExposure([]Snapshot{usdBlocked, eurBlocked, allowed})
	if !agg.SavedExposure.Equal(dec("1000")) {
		t.Fatalf("only the USD entry may contribute, got %s", agg.SavedExposure)
	}
	if agg.BlockedCount != 2 {
		t.Fatalf("expected 2 blocked entries, got %d", agg.BlockedCount)
	}
	if agg.ExcludedCount != 1 {
		t.Fatalf("the EUR entry must be excluded, got %d", agg.ExcludedCount)
	}
}
