package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mselser95/amazon-sedori/pkg/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCalculateProfitScenarioA(t *testing.T) {
	fees := types.FeeBreakdown{
		ReferralFee:     dec("4.80"),
		FBAFee:          dec("2.50"),
		Taxes:           dec("0.30"),
		InboundShipping: dec("1.20"),
		PackagingMaterials: dec("0.80"),
		StorageFee:         dec("0.50"),
		FXSpread:           dec("0.58"),
		ReturnsCost:        dec("0.19"),
	}
	analysis := CalculateProfit(dec("48.00"), dec("24.00"), fees, DefaultMoneyQuantum)

	require.Equal(t, "48.00", analysis.SellingPrice.StringFixed(2))
	require.True(t, analysis.Profit.GreaterThan(dec("5.00")))
	require.True(t, analysis.ROI.GreaterThanOrEqual(dec("0.15")))
}

func TestCalculateProfitZeroPurchaseCostSafeDivides(t *testing.T) {
	analysis := CalculateProfit(dec("10.00"), decimal.Zero, types.FeeBreakdown{}, DefaultMoneyQuantum)
	require.True(t, analysis.ROI.IsZero())
}

func TestCalculateProfitTotalsMatchWithinQuantum(t *testing.T) {
	fees := types.FeeBreakdown{ReferralFee: dec("1.111"), Taxes: dec("0.004")}
	analysis := CalculateProfit(dec("20.00"), dec("10.00"), fees, DefaultMoneyQuantum)

	expectedTotal := analysis.PurchaseCost.Add(analysis.Fees.Total())
	require.True(t, analysis.TotalCost.Equal(expectedTotal))

	expectedProfit := analysis.SellingPrice.Sub(analysis.TotalCost)
	require.True(t, analysis.Profit.Equal(expectedProfit))
}
