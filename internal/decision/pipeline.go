// Package decision coordinates the marketplace client, the price-history
// client, and the profit calculator into a single buy/no-buy verdict.
// Grounded on the original ScrapeAgent.run: same fetch → stagger → fetch →
// select-price → fetch-fees → compose-fees → calculate-profit →
// decide → build-result shape, generalized to the ten-component fee
// breakdown and the stricter degraded-inputs-blocks-buy threshold rule.
package decision

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mselser95/amazon-sedori/internal/money"
	"github.com/mselser95/amazon-sedori/pkg/types"
)

// PricingClient is the subset of the marketplace client the pipeline needs.
type PricingClient interface {
	GetCompetitivePricing(ctx context.Context, query types.ProductQuery) types.ServiceResult[[]types.CompetitivePrice]
	GetFeesEstimate(ctx context.Context, identifier string, price decimal.Decimal, currency string) types.ServiceResult[types.FeeBreakdown]
}

// HistoryClient is the subset of the price-history client the pipeline needs.
type HistoryClient interface {
	GetPriceSnapshot(ctx context.Context, query types.ProductQuery) types.ServiceResult[types.KeepaPriceSnapshot]
}

// CostOverrides carries the caller-supplied cost inputs from CLI flags or
// config defaults that the pipeline layers onto the API-derived fees.
type CostOverrides struct {
	InboundShipping    decimal.Decimal
	PackagingMaterials decimal.Decimal
	StorageFee         decimal.Decimal
	Taxes              decimal.Decimal
	FXSpreadBP         int
	ReturnRate         decimal.Decimal
}

// Thresholds gates the final meets_thresholds evaluation.
type Thresholds struct {
	MinProfit decimal.Decimal `json:"min_profit"`
	MinROI    decimal.Decimal `json:"min_roi"`
	MaxRank   *int            `json:"max_rank"`
}

// Input is one invocation's parameters.
type Input struct {
	RequestID            string
	Query                types.ProductQuery
	PurchaseCost         decimal.Decimal
	TargetPrice          decimal.Decimal
	Currency             string
	Costs                CostOverrides
	Thresholds           Thresholds
	MoneyQuantum         decimal.Decimal
	StaggerJitterSeconds float64
}

// Result is the deterministic result document per the stable output shape.
type Result struct {
	RequestID  string        `json:"request_id"`
	Inputs     ResultInputs  `json:"inputs"`
	Sources    ResultSources `json:"sources"`
	Calc       types.ProfitAnalysis `json:"calc"`
	Thresholds Thresholds    `json:"thresholds"`
	Flags      ResultFlags   `json:"flags"`
	Decision   ResultDecision `json:"decision"`
}

// ResultFlags is the top-level flags object: booleans plus the sorted,
// deduplicated reason set accumulated across every upstream call and the
// threshold evaluation.
type ResultFlags struct {
	Degraded    bool     `json:"degraded"`
	Cached      bool     `json:"cached"`
	CircuitOpen bool     `json:"circuit_open"`
	Reasons     []string `json:"reasons"`
}

// ResultDecision is the final buy/no-buy verdict in wire form.
type ResultDecision struct {
	Buy         bool     `json:"buy"`
	Profitable  bool     `json:"profitable"`
	Reasons     []string `json:"reasons"`
}

// ResultInputs echoes the resolved request inputs.
type ResultInputs struct {
	ASIN         string          `json:"asin,omitempty"`
	Barcode      string          `json:"barcode,omitempty"`
	PurchaseCost decimal.Decimal `json:"purchase_cost"`
	SellingPrice decimal.Decimal `json:"selling_price"`
}

// ResultSources preserves each upstream call's soft-fail flags alongside
// its data, one block per upstream: keepa, competitive, fees.
type ResultSources struct {
	Keepa       KeepaSource       `json:"keepa"`
	Competitive CompetitiveSource `json:"competitive"`
	Fees        FeesSource        `json:"fees"`
}

type KeepaSource struct {
	Flags    types.ServiceFlags      `json:"flags"`
	Snapshot types.KeepaPriceSnapshot `json:"snapshot"`
}

type CompetitiveSource struct {
	Flags  types.ServiceFlags        `json:"flags"`
	Offers []types.CompetitivePrice `json:"offers"`
}

type FeesSource struct {
	Flags      types.ServiceFlags `json:"flags"`
	Breakdown  types.FeeBreakdown `json:"breakdown"`
}

// Pipeline wires the two upstream clients and emits Result documents.
type Pipeline struct {
	Pricing PricingClient
	History HistoryClient
	Logger  *zap.Logger
	// sleep is swapped out in tests to avoid real stagger delays.
	sleep func(d time.Duration)
}

// New constructs a Pipeline.
func New(pricing PricingClient, history HistoryClient, logger *zap.Logger) *Pipeline {
	return &Pipeline{Pricing: pricing, History: history, Logger: logger, sleep: time.Sleep}
}

// Run executes the full nine-step decision pipeline for one invocation.
func (p *Pipeline) Run(ctx context.Context, in Input) Result {
	quantum := in.MoneyQuantum
	if quantum.IsZero() {
		quantum = money.DefaultMoneyQuantum
	}

	keepaResult := p.History.GetPriceSnapshot(ctx, in.Query)
	flags := keepaResult.Flags
	snapshot := types.KeepaPriceSnapshot{}
	if keepaResult.Data != nil {
		snapshot = *keepaResult.Data
	}

	p.stagger(in.StaggerJitterSeconds)

	competitiveResult := p.Pricing.GetCompetitivePricing(ctx, in.Query)
	flags = flags.Merge(competitiveResult.Flags)
	var offers []types.CompetitivePrice
	if competitiveResult.Data != nil {
		offers = *competitiveResult.Data
	}

	sellingPrice := selectSellingPrice(in.TargetPrice, offers, snapshot.CurrentPrice, p.Logger)

	currency := in.Currency
	if currency == "" {
		currency = snapshot.Currency
	}
	identifier := in.Query.Identifier()

	feesResult := p.Pricing.GetFeesEstimate(ctx, identifier, sellingPrice, currency)
	flags = flags.Merge(feesResult.Flags)
	apiFees := types.FeeBreakdown{}
	if feesResult.Data != nil {
		apiFees = *feesResult.Data
	}

	fullFees := composeFeeBreakdown(apiFees, sellingPrice, in.Costs)
	analysis := money.CalculateProfit(sellingPrice, in.PurchaseCost, fullFees, quantum)

	decisionResult, reasons := evaluate(analysis, snapshot, offers, in.Thresholds, flags)

	return Result{
		RequestID: in.RequestID,
		Inputs: ResultInputs{
			ASIN:         in.Query.ASIN,
			Barcode:      in.Query.Barcode,
			PurchaseCost: analysis.PurchaseCost,
			SellingPrice: analysis.SellingPrice,
		},
		Sources: ResultSources{
			Keepa:       KeepaSource{Flags: keepaResult.Flags, Snapshot: snapshot},
			Competitive: CompetitiveSource{Flags: competitiveResult.Flags, Offers: offers},
			Fees:        FeesSource{Flags: feesResult.Flags, Breakdown: apiFees},
		},
		Calc:       analysis,
		Thresholds: in.Thresholds,
		Flags: ResultFlags{
			Degraded:    flags.Degraded,
			Cached:      flags.Cached,
			CircuitOpen: flags.CircuitOpen,
			Reasons:     reasons,
		},
		Decision: ResultDecision{
			Buy:        decisionResult.MeetsThresholds,
			Profitable: decisionResult.IsProfitable,
			Reasons:    decisionResult.Reasons,
		},
	}
}

func (p *Pipeline) stagger(jitterSeconds float64) {
	if jitterSeconds <= 0 {
		return
	}
	delay := time.Duration(rand.Float64() * jitterSeconds * float64(time.Second)) //nolint:gosec // desync jitter, not security sensitive
	p.sleep(delay)
}

// selectSellingPrice implements step 4's waterfall: explicit target price,
// then the minimum landed price among offers, then Keepa's current price,
// then zero (logged).
func selectSellingPrice(target decimal.Decimal, offers []types.CompetitivePrice, keepaCurrent decimal.Decimal, logger *zap.Logger) decimal.Decimal {
	if target.GreaterThan(decimal.Zero) {
		return target
	}
	if len(offers) > 0 {
		lowest := offers[0].LandedPrice
		for _, offer := range offers[1:] {
			if offer.LandedPrice.LessThan(lowest) {
				lowest = offer.LandedPrice
			}
		}
		return lowest
	}
	if keepaCurrent.GreaterThan(decimal.Zero) {
		return keepaCurrent
	}
	if logger != nil {
		logger.Warn("selling-price-fallback-to-zero")
	}
	return decimal.Zero
}

// composeFeeBreakdown implements step 6: API-derived referral/closing/fba
// fees pass through; shipping/packaging/storage come from caller overrides;
// taxes add the caller override to the API-derived taxes; fx_spread and
// returns_cost are computed off the selling price.
func composeFeeBreakdown(api types.FeeBreakdown, sellingPrice decimal.Decimal, overrides CostOverrides) types.FeeBreakdown {
	fxSpread := sellingPrice.Mul(decimal.NewFromInt(int64(overrides.FXSpreadBP))).Div(decimal.NewFromInt(10000))
	returnsCost := sellingPrice.Mul(overrides.ReturnRate)

	return types.FeeBreakdown{
		ReferralFee:        api.ReferralFee,
		ClosingFee:         api.ClosingFee,
		FBAFee:             api.FBAFee,
		InboundShipping:    overrides.InboundShipping,
		PackagingMaterials: overrides.PackagingMaterials,
		StorageFee:         overrides.StorageFee,
		Taxes:              overrides.Taxes.Add(api.Taxes),
		FXSpread:           fxSpread,
		ReturnsCost:        returnsCost,
		OtherCosts:         api.OtherCosts,
	}
}

// evaluate implements step 8's reason evaluation against the closed
// reason vocabulary, applying the stricter "degraded inputs block a buy"
// rule per the resolved Open Question.
func evaluate(analysis types.ProfitAnalysis, snapshot types.KeepaPriceSnapshot, offers []types.CompetitivePrice, thresholds Thresholds, flags types.ServiceFlags) (types.PurchaseDecision, []string) {
	reasonSet := map[string]struct{}{}

	isProfitable := analysis.Profit.GreaterThan(decimal.Zero)
	meetsProfit := analysis.Profit.GreaterThanOrEqual(thresholds.MinProfit)
	meetsROI := analysis.ROI.GreaterThanOrEqual(thresholds.MinROI)
	meetsRank := true
	if thresholds.MaxRank != nil && snapshot.SalesRank != nil {
		meetsRank = *snapshot.SalesRank <= int64(*thresholds.MaxRank)
	}
	hasOffers := len(offers) > 0

	if !meetsProfit {
		reasonSet["profit_below_threshold"] = struct{}{}
	}
	if !meetsROI {
		reasonSet["roi_below_threshold"] = struct{}{}
	}
	if !meetsRank {
		reasonSet["rank_above_threshold"] = struct{}{}
	}
	if !hasOffers {
		reasonSet["no_competitive_offers"] = struct{}{}
	}
	if flags.Degraded {
		reasonSet["degraded_inputs"] = struct{}{}
	}
	if flags.Reason != "" {
		reasonSet[flags.Reason] = struct{}{}
	}

	meetsThresholds := isProfitable && meetsProfit && meetsROI && meetsRank && hasOffers && !flags.Degraded

	reasons := make([]string, 0, len(reasonSet))
	for reason := range reasonSet {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)

	return types.PurchaseDecision{
		IsProfitable:    isProfitable,
		MeetsThresholds: meetsThresholds,
		Reasons:         reasons,
	}, reasons
}
