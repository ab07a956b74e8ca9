// Package types holds the domain structs shared across the rate-limited
// clients and the decision pipeline. Upstream JSON is never allowed past
// the client boundary in its raw map form — everything that crosses into
// the pipeline is one of these.
package types

import (
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// ErrInvalidProductQuery is returned when neither identifier is set, or
// when both are.
var ErrInvalidProductQuery = errors.New("types: exactly one of asin or barcode is required")

// ProductQuery identifies the product under evaluation. Exactly one of
// ASIN or Barcode must be non-empty.
type ProductQuery struct {
	ASIN    string
	Barcode string
}

// NewProductQuery validates and constructs a ProductQuery.
func NewProductQuery(asin, barcode string) (ProductQuery, error) {
	if (asin == "") == (barcode == "") {
		return ProductQuery{}, ErrInvalidProductQuery
	}
	return ProductQuery{ASIN: asin, Barcode: barcode}, nil
}

// Identifier returns the ASIN if present, otherwise the barcode.
func (q ProductQuery) Identifier() string {
	if q.ASIN != "" {
		return q.ASIN
	}
	return q.Barcode
}

// CompetitivePrice is one competing offer on the marketplace.
type CompetitivePrice struct {
	Condition   string          `json:"condition"`
	SellerID    string          `json:"seller_id"`
	LandedPrice decimal.Decimal `json:"landed_price"`
	Shipping    decimal.Decimal `json:"shipping"`
	LastUpdated time.Time       `json:"last_updated"`
}

// KeepaPriceSnapshot is the decoded price-history view for a product.
type KeepaPriceSnapshot struct {
	CurrentPrice    decimal.Decimal `json:"current_price"`
	AveragePrice30d decimal.Decimal `json:"average_price_30d"`
	LowestPrice30d  decimal.Decimal `json:"lowest_price_30d"`
	HighestPrice30d decimal.Decimal `json:"highest_price_30d"`
	SalesRank       *int64          `json:"sales_rank,omitempty"`
	Currency        string          `json:"currency"`
	Title           string          `json:"title,omitempty"`
	ImageURLs       []string        `json:"image_urls,omitempty"`
}

// FeeBreakdown is the ten additive money components of a sale.
type FeeBreakdown struct {
	ReferralFee        decimal.Decimal `json:"referral_fee"`
	ClosingFee         decimal.Decimal `json:"closing_fee"`
	FBAFee             decimal.Decimal `json:"fba_fee"`
	InboundShipping    decimal.Decimal `json:"inbound_shipping"`
	PackagingMaterials decimal.Decimal `json:"packaging_materials"`
	StorageFee         decimal.Decimal `json:"storage_fee"`
	Taxes              decimal.Decimal `json:"taxes"`
	FXSpread           decimal.Decimal `json:"fx_spread"`
	ReturnsCost        decimal.Decimal `json:"returns_cost"`
	OtherCosts         decimal.Decimal `json:"other_costs"`
}

// Total sums the ten components.
func (f FeeBreakdown) Total() decimal.Decimal {
	return f.ReferralFee.
		Add(f.ClosingFee).
		Add(f.FBAFee).
		Add(f.InboundShipping).
		Add(f.PackagingMaterials).
		Add(f.StorageFee).
		Add(f.Taxes).
		Add(f.FXSpread).
		Add(f.ReturnsCost).
		Add(f.OtherCosts)
}

// MarshalJSON appends the computed total to the ten wire components.
func (f FeeBreakdown) MarshalJSON() ([]byte, error) {
	type alias FeeBreakdown
	return json.Marshal(struct {
		alias
		Total decimal.Decimal `json:"total"`
	}{alias: alias(f), Total: f.Total()})
}

// ProfitAnalysis is the quantized output of the profit calculator.
type ProfitAnalysis struct {
	SellingPrice decimal.Decimal `json:"selling_price"`
	PurchaseCost decimal.Decimal `json:"purchase_cost"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	Fees         FeeBreakdown    `json:"fees"`
	Profit       decimal.Decimal `json:"profit"`
	ROI          decimal.Decimal `json:"roi"`
	Margin       decimal.Decimal `json:"margin"`
}

// PurchaseDecision is the final buy / do-not-buy verdict.
type PurchaseDecision struct {
	IsProfitable    bool
	MeetsThresholds bool
	Reasons         []string
}

// ServiceFlags carries soft-fail observability state alongside a result.
type ServiceFlags struct {
	Degraded    bool   `json:"degraded"`
	Cached      bool   `json:"cached"`
	CircuitOpen bool   `json:"circuit_open"`
	Reason      string `json:"reason,omitempty"`
}

// Merge ORs the booleans and lets a non-empty incoming reason win.
func (f ServiceFlags) Merge(other ServiceFlags) ServiceFlags {
	merged := ServiceFlags{
		Degraded:    f.Degraded || other.Degraded,
		Cached:      f.Cached || other.Cached,
		CircuitOpen: f.CircuitOpen || other.CircuitOpen,
		Reason:      f.Reason,
	}
	if other.Reason != "" {
		merged.Reason = other.Reason
	}
	return merged
}

// ServiceResult is the soft-fail union: Data is nil on degraded paths.
type ServiceResult[T any] struct {
	Data  *T
	Flags ServiceFlags
}

// Ok wraps a successful value with empty flags.
func Ok[T any](data T) ServiceResult[T] {
	return ServiceResult[T]{Data: &data, Flags: ServiceFlags{}}
}

// Degraded builds a soft-fail result carrying no data.
func Degraded[T any](reason string, extra ServiceFlags) ServiceResult[T] {
	extra.Degraded = true
	extra.Reason = reason
	return ServiceResult[T]{Data: nil, Flags: extra}
}
