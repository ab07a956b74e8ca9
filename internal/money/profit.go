package money

import (
	"github.com/shopspring/decimal"

	"github.com/mselser95/amazon-sedori/pkg/types"
)

// CalculateProfit is the pure function from (selling price, purchase cost,
// fee breakdown, rounding quantum) to a quantized ProfitAnalysis. Grounded
// on the original calculate_profit: total_cost/profit/roi/margin derived
// the same way, but operating over the ten-component FeeBreakdown rather
// than the original's five-component one, and with the money quantum
// configurable rather than hardcoded to 0.01.
func CalculateProfit(sellingPrice, purchaseCost decimal.Decimal, fees types.FeeBreakdown, quantum decimal.Decimal) types.ProfitAnalysis {
	quantizedFees := types.FeeBreakdown{
		ReferralFee:        QuantizeMoney(fees.ReferralFee, quantum),
		ClosingFee:         QuantizeMoney(fees.ClosingFee, quantum),
		FBAFee:             QuantizeMoney(fees.FBAFee, quantum),
		InboundShipping:    QuantizeMoney(fees.InboundShipping, quantum),
		PackagingMaterials: QuantizeMoney(fees.PackagingMaterials, quantum),
		StorageFee:         QuantizeMoney(fees.StorageFee, quantum),
		Taxes:              QuantizeMoney(fees.Taxes, quantum),
		FXSpread:           QuantizeMoney(fees.FXSpread, quantum),
		ReturnsCost:        QuantizeMoney(fees.ReturnsCost, quantum),
		OtherCosts:         QuantizeMoney(fees.OtherCosts, quantum),
	}

	totalCost := purchaseCost.Add(quantizedFees.Total())
	profit := sellingPrice.Sub(totalCost)
	roi := SafeDivide(profit, purchaseCost)
	margin := SafeDivide(profit, sellingPrice)

	return types.ProfitAnalysis{
		SellingPrice: QuantizeMoney(sellingPrice, quantum),
		PurchaseCost: QuantizeMoney(purchaseCost, quantum),
		TotalCost:    QuantizeMoney(totalCost, quantum),
		Fees:         quantizedFees,
		Profit:       QuantizeMoney(profit, quantum),
		ROI:          QuantizeRatio(roi),
		Margin:       QuantizeRatio(margin),
	}
}
