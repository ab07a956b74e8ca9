// Package keepa implements the price-history client: the compact-series
// decoder, window statistics, and an in-memory TTL result cache. Grounded
// on the original KeepaAPIClient for the request shape and image-URL
// expansion, with the delta-encoded per-series map decoding specified by
// the (authoritative) expanded interpretation rather than the flat-list
// variant also present in the original source. The TTL cache is a
// pkg/cache RistrettoCache, and concurrent misses on one key are coalesced
// through a singleflight.Group.
package keepa

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mselser95/amazon-sedori/internal/jsonutil"
	"github.com/mselser95/amazon-sedori/internal/money"
	"github.com/mselser95/amazon-sedori/internal/transport"
	"github.com/mselser95/amazon-sedori/pkg/cache"
	"github.com/mselser95/amazon-sedori/pkg/types"
)

// keepaEpoch is the base instant for delta-encoded minute timestamps.
var keepaEpoch = time.Date(2011, 1, 1, 0, 0, 0, 0, time.UTC)

const imageBaseURL = "https://images-na.ssl-images-amazon.com/images/I/"

var priceSeriesPriority = [][]string{
	{"amazon", "0"},
	{"new", "1", "new_fba", "new_shipping"},
	{"buy_box_shipping", "buy_box", "16"},
}

var rankSeriesPriority = [][]string{
	{"sales", "sales_rank", "rank", "3"},
}

// Config configures a Client.
type Config struct {
	APIKey      string
	Domain      int
	CacheTTL    time.Duration
	CacheSize   int64
	BudgetLimit int
}

// Client is the Keepa-style price-history client.
type Client struct {
	cfg    Config
	scheme string
	tr     *transport.Client
	logger *zap.Logger

	cache cache.Cache
	group singleflight.Group
}

// New constructs a Keepa Client with a capacity-512-by-default TTL cache.
func New(cfg Config, tr *transport.Client, logger *zap.Logger) (*Client, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 512
	}
	snapshotCache, err := cache.NewRistrettoCache(cache.SnapshotCacheConfig(cfg.CacheSize, logger))
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, scheme: "https", tr: tr, logger: logger, cache: snapshotCache}, nil
}

// httpOverrideForTest points the client at plain http for local testing.
func (c *Client) httpOverrideForTest() { c.scheme = "http" }

func digestAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])[:6]
}

func (c *Client) budgetKey() string {
	return "keepa:" + strconv.Itoa(c.cfg.Domain) + ":" + digestAPIKey(c.cfg.APIKey)
}

func (c *Client) cacheKey(query types.ProductQuery) string {
	return query.Identifier() + ":" + strconv.Itoa(c.cfg.Domain)
}

// GetPriceSnapshot: a TTL cache hit returns immediately with
// flags.cached=true and touches neither budget nor the network; a
// miss fetches, decodes the compact series, computes window statistics,
// and populates the cache. Concurrent misses on the same key are
// coalesced by singleflight so only one HTTP call is made.
func (c *Client) GetPriceSnapshot(ctx context.Context, query types.ProductQuery) types.ServiceResult[types.KeepaPriceSnapshot] {
	key := c.cacheKey(query)

	if cached, ok := c.cache.Get(key); ok {
		snapshot := cached.(types.KeepaPriceSnapshot)
		return types.ServiceResult[types.KeepaPriceSnapshot]{Data: &snapshot, Flags: types.ServiceFlags{Cached: true}}
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.fetchAndDecode(ctx, query)
	})
	if err != nil {
		return types.Degraded[types.KeepaPriceSnapshot]("keepa_error", types.ServiceFlags{})
	}
	return result.(types.ServiceResult[types.KeepaPriceSnapshot])
}

func (c *Client) fetchAndDecode(ctx context.Context, query types.ProductQuery) (types.ServiceResult[types.KeepaPriceSnapshot], error) {
	rawURL := c.scheme + "://api.keepa.com/product"
	params := url.Values{
		"key":    []string{c.cfg.APIKey},
		"domain": []string{strconv.Itoa(c.cfg.Domain)},
		"stats":  []string{"90"},
		"offers": []string{"20"},
	}
	if query.ASIN != "" {
		params.Set("asin", query.ASIN)
	} else {
		params.Set("code", query.Barcode)
	}

	resp, flags, err := c.tr.Do(ctx, c.budgetKey(), c.cfg.BudgetLimit, func(reqCtx context.Context) (*http.Request, error) {
		full := rawURL + "?" + params.Encode()
		return http.NewRequestWithContext(reqCtx, http.MethodGet, full, nil)
	})
	if flags.Degraded {
		return types.Degraded[types.KeepaPriceSnapshot]("keepa_error", flags), nil
	}
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("keepa-fetch-error", zap.Error(err))
		}
		return types.Degraded[types.KeepaPriceSnapshot]("keepa_error", types.ServiceFlags{}), nil
	}
	defer resp.Body.Close()

	var payload struct {
		Products []rawProduct `json:"products"`
	}
	if decodeErr := jsonutil.Decode(resp.Body, &payload); decodeErr != nil || len(payload.Products) == 0 {
		return types.Degraded[types.KeepaPriceSnapshot]("keepa_error", types.ServiceFlags{}), nil
	}

	snapshot, snapFlags := buildSnapshot(payload.Products[0])
	if !snapFlags.Degraded {
		c.cache.Set(c.cacheKey(query), snapshot, c.cfg.CacheTTL)
		// Ristretto applies sets asynchronously; wait so the next lookup hits.
		if waiter, ok := c.cache.(interface{ Wait() }); ok {
			waiter.Wait()
		}
	}

	return types.ServiceResult[types.KeepaPriceSnapshot]{Data: &snapshot, Flags: snapFlags}, nil
}

type rawProduct struct {
	CSV       map[string][]int64 `json:"csv"`
	ImagesCSV string             `json:"imagesCSV"`
	Title     string             `json:"title"`
	Currency  string             `json:"currency"`
}

type point struct {
	ts    time.Time
	value decimal.Decimal
}

// decodeDeltaPairs walks Keepa's delta-encoded (minute-offset, value) pairs,
// skipping non-positive (no-datum) values, and hands each surviving value to
// toDecimal so price and rank series can share the cursor/timestamp logic
// while differing in units.
func decodeDeltaPairs(deltas []int64, toDecimal func(int64) decimal.Decimal) []point {
	if len(deltas) < 2 {
		return nil
	}
	points := make([]point, 0, len(deltas)/2)
	var cursor int64
	for i := 0; i+1 < len(deltas); i += 2 {
		if i == 0 {
			cursor = deltas[i]
		} else {
			cursor += deltas[i]
		}
		value := deltas[i+1]
		if value <= 0 {
			continue
		}
		ts := keepaEpoch.Add(time.Duration(cursor) * time.Minute)
		points = append(points, point{ts: ts, value: toDecimal(value)})
	}
	return points
}

// decodeSeries decodes a price series: Keepa encodes prices as integer
// cents, so every surviving value is divided by 100.
func decodeSeries(deltas []int64) []point {
	return decodeDeltaPairs(deltas, func(v int64) decimal.Decimal {
		return decimal.NewFromInt(v).Div(decimal.NewFromInt(100))
	})
}

// decodeRankSeries decodes a sales-rank series: ranks are raw position
// integers, not currency, and are never scaled.
func decodeRankSeries(deltas []int64) []point {
	return decodeDeltaPairs(deltas, func(v int64) decimal.Decimal {
		return decimal.NewFromInt(v)
	})
}

func selectSeries(csv map[string][]int64, priority [][]string, decode func([]int64) []point) []point {
	lower := make(map[string][]int64, len(csv))
	for k, v := range csv {
		lower[strings.ToLower(k)] = v
	}
	for _, names := range priority {
		for _, name := range names {
			if series, ok := lower[name]; ok {
				points := decode(series)
				if len(points) > 0 {
					return points
				}
			}
		}
	}
	return nil
}

func buildSnapshot(p rawProduct) (types.KeepaPriceSnapshot, types.ServiceFlags) {
	pricePoints := selectSeries(p.CSV, priceSeriesPriority, decodeSeries)
	rankPoints := selectSeries(p.CSV, rankSeriesPriority, decodeRankSeries)

	snapshot := types.KeepaPriceSnapshot{
		Currency:  p.Currency,
		Title:     p.Title,
		ImageURLs: expandImageURLs(p.ImagesCSV),
	}
	flags := types.ServiceFlags{}

	if len(pricePoints) == 0 {
		flags.Degraded = true
		flags.Reason = "keepa_insufficient_data"
		return snapshot, flags
	}

	snapshot.CurrentPrice = pricePoints[len(pricePoints)-1].value

	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	window := make([]point, 0, len(pricePoints))
	for _, pt := range pricePoints {
		if !pt.ts.Before(cutoff) {
			window = append(window, pt)
		}
	}

	insufficientWindow := len(window) < 2
	if insufficientWindow {
		window = pricePoints
		flags.Degraded = true
		flags.Reason = "keepa_insufficient_data"
	}

	values := make([]decimal.Decimal, len(window))
	for i, pt := range window {
		values[i] = pt.value
	}
	snapshot.AveragePrice30d = money.QuantizeMoney(median(values), money.DefaultMoneyQuantum)
	snapshot.LowestPrice30d = money.QuantizeMoney(percentile(values, decimal.NewFromFloat(0.10)), money.DefaultMoneyQuantum)
	snapshot.HighestPrice30d = money.QuantizeMoney(percentile(values, decimal.NewFromFloat(0.90)), money.DefaultMoneyQuantum)

	snapshot.SalesRank = latestRank(rankPoints)
	if snapshot.SalesRank == nil && !flags.Degraded {
		flags.Degraded = true
		flags.Reason = "keepa_rank_insufficient"
	}

	return snapshot, flags
}

// latestRank prefers the most recent rank reading inside the 30-day window;
// if the window is empty but older rank points exist, it falls back to
// their median rather than discarding a rank the series actually has.
func latestRank(rankPoints []point) *int64 {
	if len(rankPoints) == 0 {
		return nil
	}

	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	window := make([]point, 0, len(rankPoints))
	for _, pt := range rankPoints {
		if !pt.ts.Before(cutoff) {
			window = append(window, pt)
		}
	}

	if len(window) > 0 {
		rank := window[len(window)-1].value.IntPart()
		return &rank
	}

	values := make([]decimal.Decimal, len(rankPoints))
	for i, pt := range rankPoints {
		values[i] = pt.value
	}
	rank := median(values).IntPart()
	return &rank
}

func expandImageURLs(imagesCSV string) []string {
	if imagesCSV == "" {
		return nil
	}
	tokens := strings.Split(imagesCSV, ",")
	urls := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if strings.HasPrefix(tok, "http") {
			urls = append(urls, tok)
		} else {
			urls = append(urls, imageBaseURL+tok+".jpg")
		}
	}
	return urls
}

func sortedCopy(values []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	copy(out, values)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].GreaterThan(out[j]); j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func median(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sorted := sortedCopy(values)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	sum := sorted[n/2-1].Add(sorted[n/2])
	return sum.DivRound(decimal.NewFromInt(2), 8)
}

// percentile returns the p-th percentile (p in [0,1]) via linear
// interpolation between adjacent sorted entries.
func percentile(values []decimal.Decimal, p decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sorted := sortedCopy(values)
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := p.Mul(decimal.NewFromInt(int64(len(sorted) - 1)))
	lowerIdx := int(rank.Truncate(0).IntPart())
	frac := rank.Sub(decimal.NewFromInt(int64(lowerIdx)))

	if lowerIdx >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	lower := sorted[lowerIdx]
	upper := sorted[lowerIdx+1]
	return lower.Add(upper.Sub(lower).Mul(frac))
}
