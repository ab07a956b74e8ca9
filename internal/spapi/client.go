package spapi

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mselser95/amazon-sedori/internal/jsonutil"
	"github.com/mselser95/amazon-sedori/internal/sigv4"
	"github.com/mselser95/amazon-sedori/internal/transport"
	"github.com/mselser95/amazon-sedori/pkg/types"
)

// ErrMarketplaceAPI signals a non-retryable >=400 response or a malformed
// payload from the marketplace API.
type ErrMarketplaceAPI struct {
	Op  string
	Err error
}

func (e *ErrMarketplaceAPI) Error() string { return fmt.Sprintf("spapi: %s: %s", e.Op, e.Err) }
func (e *ErrMarketplaceAPI) Unwrap() error { return e.Err }

// Config configures a Client.
type Config struct {
	Host          string // e.g. sellingpartnerapi-fe.amazon.com
	MarketplaceID string
	Region        string
	AccessKeyID   string
	SecretKey     string
	BudgetLimit   int
}

// Client is the marketplace client: competitive pricing and fees-estimate
// calls, both signed with SigV4 and authenticated with an LWA access
// token, both driven through the shared retrying transport.
type Client struct {
	cfg    Config
	scheme string
	tr     *transport.Client
	tokens *TokenCache
	signer *sigv4.Signer
	logger *zap.Logger
}

// New constructs a marketplace Client.
func New(cfg Config, tr *transport.Client, tokens *TokenCache, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		scheme: "https",
		tr:     tr,
		tokens: tokens,
		signer: sigv4.New(cfg.Region, "execute-api"),
		logger: logger,
	}
}

// httpsOverrideForTest switches the client to plain http; it exists only
// so tests can point the client at an httptest.Server.
func (c *Client) httpsOverrideForTest() {
	c.scheme = "http"
}

func (c *Client) budgetKey() string {
	return "spapi:" + c.cfg.MarketplaceID
}

func (c *Client) sign(ctx context.Context, method, rawURL string, query url.Values, body []byte) (*http.Request, error) {
	token, err := c.tokens.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	headers, err := c.signer.Sign(sigv4.Credentials{AccessKeyID: c.cfg.AccessKeyID, SecretAccessKey: c.cfg.SecretKey},
		method, rawURL, map[string]string{"x-amz-access-token": token}, query, body, time.Now())
	if err != nil {
		return nil, err
	}

	full := rawURL
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, full, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// GetCompetitivePricing builds MarketplaceId + Asins|Skus, parses
// payload[].competitivePricing.competitivePrices[], and stamps
// last_updated with the call time.
func (c *Client) GetCompetitivePricing(ctx context.Context, query types.ProductQuery) types.ServiceResult[[]types.CompetitivePrice] {
	rawURL := c.scheme + "://" + c.cfg.Host + "/products/pricing/v0/competitivePrice"
	params := url.Values{"MarketplaceId": []string{c.cfg.MarketplaceID}}
	if query.ASIN != "" {
		params.Set("Asins", query.ASIN)
	} else {
		params.Set("Skus", query.Barcode)
	}

	resp, flags, err := c.tr.Do(ctx, c.budgetKey(), c.cfg.BudgetLimit, func(reqCtx context.Context) (*http.Request, error) {
		return c.sign(reqCtx, http.MethodGet, rawURL, params, nil)
	})
	if flags.Degraded {
		return types.Degraded[[]types.CompetitivePrice]("spapi_pricing_error", flags)
	}
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("competitive-pricing-error", zap.Error(err))
		}
		return types.Degraded[[]types.CompetitivePrice]("spapi_pricing_error", types.ServiceFlags{})
	}
	defer resp.Body.Close()

	var payload struct {
		Payload []struct {
			CompetitivePricing struct {
				CompetitivePrices []struct {
					Condition string `json:"condition"`
					SellerID  string `json:"sellerId"`
					Price     struct {
						LandedPrice struct {
							Amount string `json:"Amount"`
						} `json:"LandedPrice"`
						Shipping struct {
							Amount string `json:"Amount"`
						} `json:"Shipping"`
					} `json:"Price"`
				} `json:"CompetitivePrices"`
			} `json:"competitivePricing"`
		} `json:"payload"`
	}
	if decodeErr := jsonutil.Decode(resp.Body, &payload); decodeErr != nil {
		return types.Degraded[[]types.CompetitivePrice]("spapi_pricing_error", types.ServiceFlags{})
	}

	now := time.Now().UTC()
	prices := make([]types.CompetitivePrice, 0)
	for _, item := range payload.Payload {
		for _, cp := range item.CompetitivePricing.CompetitivePrices {
			landed, lerr := decimal.NewFromString(cp.Price.LandedPrice.Amount)
			if lerr != nil {
				continue
			}
			shipping, serr := decimal.NewFromString(cp.Price.Shipping.Amount)
			if serr != nil {
				shipping = decimal.Zero
			}
			prices = append(prices, types.CompetitivePrice{
				Condition:   cp.Condition,
				SellerID:    cp.SellerID,
				LandedPrice: landed,
				Shipping:    shipping,
				LastUpdated: now,
			})
		}
	}

	return types.Ok(prices)
}

// GetFeesEstimate POSTs a FeesEstimateRequest and maps TotalFees[] by
// FeeType into the narrow API-derived subset of FeeBreakdown; unrecognized
// fee types default the remainder to zero and malformed entries are
// skipped with a warning.
func (c *Client) GetFeesEstimate(ctx context.Context, identifier string, price decimal.Decimal, currency string) types.ServiceResult[types.FeeBreakdown] {
	rawURL := c.scheme + "://" + c.cfg.Host + "/products/fees/v0/listings/fees"

	reqBody := map[string]interface{}{
		"FeesEstimateRequest": map[string]interface{}{
			"MarketplaceId": c.cfg.MarketplaceID,
			"Identifier":    identifier,
			"PriceToEstimateFees": map[string]interface{}{
				"ListingPrice": map[string]interface{}{
					"CurrencyCode": currency,
					"Amount":       price.StringFixed(2),
				},
			},
			"IsAmazonFulfilled":         true,
			"OptionalFulfillmentPrograms": []string{"FBA"},
		},
	}
	body, err := jsonutil.Marshal(reqBody)
	if err != nil {
		return types.Degraded[types.FeeBreakdown]("spapi_fee_error", types.ServiceFlags{})
	}

	resp, flags, doErr := c.tr.Do(ctx, c.budgetKey(), c.cfg.BudgetLimit, func(reqCtx context.Context) (*http.Request, error) {
		return c.sign(reqCtx, http.MethodPost, rawURL, nil, body)
	})
	if flags.Degraded {
		return types.Degraded[types.FeeBreakdown]("spapi_fee_error", flags)
	}
	if doErr != nil {
		if c.logger != nil {
			c.logger.Warn("fees-estimate-error", zap.Error(doErr))
		}
		return types.Degraded[types.FeeBreakdown]("spapi_fee_error", types.ServiceFlags{})
	}
	defer resp.Body.Close()

	var payload struct {
		TotalFees []struct {
			FeeType  string `json:"FeeType"`
			FeeAmount struct {
				Amount string `json:"Amount"`
			} `json:"FeeAmount"`
		} `json:"TotalFees"`
	}
	if decodeErr := jsonutil.Decode(resp.Body, &payload); decodeErr != nil {
		return types.Degraded[types.FeeBreakdown]("spapi_fee_error", types.ServiceFlags{})
	}

	var fees types.FeeBreakdown
	for _, f := range payload.TotalFees {
		amount, aerr := decimal.NewFromString(f.FeeAmount.Amount)
		if aerr != nil {
			if c.logger != nil {
				c.logger.Warn("skipping-malformed-fee-entry", zap.String("fee_type", f.FeeType), zap.String("amount", f.FeeAmount.Amount))
			}
			continue
		}
		switch f.FeeType {
		case "ReferralFee":
			fees.ReferralFee = amount
		case "VariableClosingFee":
			fees.ClosingFee = amount
		case "FBAPerUnitFulfillmentFee":
			fees.FBAFee = amount
		case "FBAShipmentFee":
			fees.InboundShipping = amount
		case "Tax":
			fees.Taxes = amount
		default:
			if c.logger != nil {
				c.logger.Debug("unrecognized-fee-type", zap.String("fee_type", f.FeeType))
			}
		}
	}

	return types.Ok(fees)
}

// ParseMoney is a small helper so callers can turn string amounts from
// CLI flags or config into decimal.Decimal with a single error path.
func ParseMoney(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return v, nil
}
