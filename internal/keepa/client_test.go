package keepa

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mselser95/amazon-sedori/internal/ratelimit"
	"github.com/mselser95/amazon-sedori/internal/transport"
	"github.com/mselser95/amazon-sedori/pkg/types"
)

func newTestClient(t *testing.T, apiSrv *httptest.Server) *Client {
	t.Helper()
	tr := transport.New(&http.Client{},
		ratelimit.NewCircuitBreaker("keepa", 3, 30*time.Second),
		ratelimit.NewBudget(),
		ratelimit.NewKeySemaphore(4),
		transport.DefaultRetryPolicy(),
		zaptest.NewLogger(t))

	c, err := New(Config{APIKey: "key", Domain: 1, CacheTTL: time.Minute, BudgetLimit: 100}, tr, zaptest.NewLogger(t))
	require.NoError(t, err)
	c.httpOverrideForTest()
	return c
}

// minuteDelta returns minutes-since-keepaEpoch for a time t minutes ago.
func minuteDelta(agoMinutes int64) int64 {
	target := time.Now().Add(-time.Duration(agoMinutes) * time.Minute)
	return int64(target.Sub(keepaEpoch).Minutes())
}

func TestDecodeSeriesSkipsNegativeSentinels(t *testing.T) {
	t.Parallel()
	deltas := []int64{1000, -1, 5, 2500, 10, 2600}
	points := decodeSeries(deltas)
	require.Len(t, points, 2)
	require.Equal(t, "25.00", points[0].value.StringFixed(2))
	require.Equal(t, "26.00", points[1].value.StringFixed(2))
}

func TestDecodeRankSeriesDoesNotScale(t *testing.T) {
	t.Parallel()
	deltas := []int64{1000, -1, 5, 3000000, 10, 2500000}
	points := decodeRankSeries(deltas)
	require.Len(t, points, 2)
	require.Equal(t, "3000000", points[0].value.String())
	require.Equal(t, "2500000", points[1].value.String())
}

func TestLatestRankPrefersWindow(t *testing.T) {
	t.Parallel()
	now := time.Now()
	points := []point{
		{ts: now.Add(-60 * 24 * time.Hour), value: decimal.NewFromInt(500000)},
		{ts: now.Add(-5 * 24 * time.Hour), value: decimal.NewFromInt(120000)},
	}
	rank := latestRank(points)
	require.NotNil(t, rank)
	require.Equal(t, int64(120000), *rank)
}

func TestLatestRankFallsBackToMedianWhenWindowEmpty(t *testing.T) {
	t.Parallel()
	now := time.Now()
	points := []point{
		{ts: now.Add(-90 * 24 * time.Hour), value: decimal.NewFromInt(100000)},
		{ts: now.Add(-80 * 24 * time.Hour), value: decimal.NewFromInt(300000)},
	}
	rank := latestRank(points)
	require.NotNil(t, rank)
	require.Equal(t, int64(200000), *rank)
}

func TestLatestRankNilWhenNoPoints(t *testing.T) {
	t.Parallel()
	require.Nil(t, latestRank(nil))
}

func TestPercentileInterpolates(t *testing.T) {
	t.Parallel()
	values := []decimal.Decimal{
		decimal.NewFromInt(10),
		decimal.NewFromInt(20),
		decimal.NewFromInt(30),
		decimal.NewFromInt(40),
	}
	require.Equal(t, "13", percentile(values, decimal.NewFromFloat(0.10)).String())
	require.Equal(t, "37", percentile(values, decimal.NewFromFloat(0.90)).String())
	require.Equal(t, "25", median(values).String())
}

func TestGetPriceSnapshotParsesAndCaches(t *testing.T) {
	t.Parallel()

	var calls int32
	amazonSeries := fmt.Sprintf(`[%d,2500,%d,2600,%d,2550]`,
		minuteDelta(20*24*60), minuteDelta(10*24*60)-minuteDelta(20*24*60), minuteDelta(1*24*60)-minuteDelta(10*24*60))
	salesSeries := fmt.Sprintf(`[%d,120000]`, minuteDelta(2*24*60))

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"products":[{"title":"Widget","currency":"USD","imagesCSV":"abc123,http://example.com/x.jpg","csv":{"AMAZON":%s,"SALES":%s}}]}`,
			amazonSeries, salesSeries)
	}))
	defer apiSrv.Close()

	c := newTestClient(t, apiSrv)
	query := types.ProductQuery{ASIN: "B0TEST"}

	result := c.GetPriceSnapshot(t.Context(), query)
	require.False(t, result.Flags.Degraded)
	require.NotNil(t, result.Data)
	require.Equal(t, "25.50", result.Data.CurrentPrice.StringFixed(2))
	require.Equal(t, "Widget", result.Data.Title)
	require.Len(t, result.Data.ImageURLs, 2)
	require.Equal(t, imageBaseURL+"abc123.jpg", result.Data.ImageURLs[0])
	require.Equal(t, "http://example.com/x.jpg", result.Data.ImageURLs[1])

	result2 := c.GetPriceSnapshot(t.Context(), query)
	require.True(t, result2.Flags.Cached)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetPriceSnapshotQuantizesWindowStatsAndDecodesRank(t *testing.T) {
	t.Parallel()

	amazonSeries := fmt.Sprintf(`[%d,2501,%d,2502,%d,2503]`,
		minuteDelta(20*24*60), minuteDelta(10*24*60)-minuteDelta(20*24*60), minuteDelta(1*24*60)-minuteDelta(10*24*60))
	salesSeries := fmt.Sprintf(`[%d,3000000,%d,2500000]`,
		minuteDelta(15*24*60), minuteDelta(5*24*60)-minuteDelta(15*24*60))

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"products":[{"title":"Widget","currency":"USD","csv":{"AMAZON":%s,"SALES":%s}}]}`,
			amazonSeries, salesSeries)
	}))
	defer apiSrv.Close()

	c := newTestClient(t, apiSrv)
	result := c.GetPriceSnapshot(t.Context(), types.ProductQuery{ASIN: "B0RANK"})

	require.False(t, result.Flags.Degraded)
	require.NotNil(t, result.Data.SalesRank)
	require.Equal(t, int64(2500000), *result.Data.SalesRank)

	// 10th/90th percentile interpolation over 25.01/25.02/25.03 lands on
	// 25.012/25.028 before quantization; half-up to the cent must produce
	// these exact values, not a truncated or leaked multi-digit fraction.
	require.Equal(t, "25.02", result.Data.AveragePrice30d.StringFixed(2))
	require.Equal(t, "25.01", result.Data.LowestPrice30d.StringFixed(2))
	require.Equal(t, "25.03", result.Data.HighestPrice30d.StringFixed(2))
}

func TestGetPriceSnapshotInsufficientDataDegrades(t *testing.T) {
	t.Parallel()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"products":[{"title":"Widget","currency":"USD","csv":{}}]}`))
	}))
	defer apiSrv.Close()

	c := newTestClient(t, apiSrv)
	result := c.GetPriceSnapshot(t.Context(), types.ProductQuery{ASIN: "B0EMPTY"})
	require.True(t, result.Flags.Degraded)
	require.Equal(t, "keepa_insufficient_data", result.Flags.Reason)
}

func TestExpandImageURLs(t *testing.T) {
	t.Parallel()
	urls := expandImageURLs("tok1,http://already.example/img.jpg, tok2 ")
	require.Equal(t, []string{
		imageBaseURL + "tok1.jpg",
		"http://already.example/img.jpg",
		imageBaseURL + "tok2.jpg",
	}, urls)
}
