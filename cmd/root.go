// Package cmd wires the cobra CLI surface onto the config loader, the
// transport/ratelimit primitives, the spapi/keepa clients, and the
// decision pipeline. Argument surface and exit-code contract follow the
// original cli.py, expressed as cobra flags on a single rootCmd.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mselser95/amazon-sedori/internal/config"
	"github.com/mselser95/amazon-sedori/internal/decision"
	"github.com/mselser95/amazon-sedori/internal/jsonutil"
	"github.com/mselser95/amazon-sedori/internal/keepa"
	"github.com/mselser95/amazon-sedori/internal/notify"
	"github.com/mselser95/amazon-sedori/internal/ratelimit"
	"github.com/mselser95/amazon-sedori/internal/spapi"
	"github.com/mselser95/amazon-sedori/internal/transport"
	"github.com/mselser95/amazon-sedori/pkg/types"
)

// exit codes per the CLI contract: 0 normal (including degraded/no-buy),
// 1 configuration error, 2 argument error.
const (
	exitOK          = 0
	exitConfigError = 1
	exitArgError    = 2
)

type cliFlags struct {
	asin            string
	barcode         string
	purchaseCost    string
	inboundShipping string
	packaging       string
	storageFee      string
	taxes           string
	targetPrice     string
	fxSpreadBP      int
	returnRate      string
	env             string
	pretty          bool
	notifySlack     bool
	notifyLine      bool
	dryRun          bool
	decisionPath    string
	logLevel        string
	configDir       string
}

var flags cliFlags

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "amazon-sedori",
	Short: "Retail arbitrage decision engine for a single marketplace",
	Long: `amazon-sedori queries a price-history service and a marketplace
seller API for one product identifier, derives a selling price, computes a
fully decomposed profit model, and emits a structured buy / do-not-buy
decision alongside observability flags.`,
	RunE: runDecision,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var argErr *argumentError
		if errors.As(err, &argErr) {
			os.Exit(exitArgError)
		}
		var cfgErr *configError
		if errors.As(err, &cfgErr) {
			os.Exit(exitConfigError)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}
}

type argumentError struct{ msg string }

func (e *argumentError) Error() string { return e.msg }

type configError struct{ msg string }

func (e *configError) Error() string { return e.msg }

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.Flags().StringVar(&flags.asin, "asin", "", "Amazon ASIN identifier")
	rootCmd.Flags().StringVar(&flags.barcode, "barcode", "", "Product barcode (JAN/EAN)")
	rootCmd.Flags().StringVar(&flags.purchaseCost, "purchase-cost", "", "Acquisition cost (required)")
	rootCmd.Flags().StringVar(&flags.inboundShipping, "inbound-shipping", "", "Override inbound shipping cost per unit")
	rootCmd.Flags().StringVar(&flags.packaging, "packaging", "", "Override packaging material cost per unit")
	rootCmd.Flags().StringVar(&flags.storageFee, "storage-fee", "", "Override monthly storage fee per unit")
	rootCmd.Flags().StringVar(&flags.taxes, "taxes", "", "Additional taxes per unit")
	rootCmd.Flags().StringVar(&flags.targetPrice, "target-price", "", "Override selling price")
	rootCmd.Flags().IntVar(&flags.fxSpreadBP, "fx-spread-bp", 0, "Override FX spread in basis points")
	rootCmd.Flags().StringVar(&flags.returnRate, "return-rate", "", "Override expected return rate (e.g. 0.05)")
	rootCmd.Flags().StringVar(&flags.env, "env", "", "Environment override (matches config/env/<env>.yml)")
	rootCmd.Flags().BoolVar(&flags.pretty, "pretty", false, "Pretty-print JSON output")
	rootCmd.Flags().BoolVar(&flags.notifySlack, "notify-slack", false, "Send Slack notification when thresholds pass")
	rootCmd.Flags().BoolVar(&flags.notifyLine, "notify-line", false, "Send LINE notification when thresholds pass")
	rootCmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Resolve data without triggering notifications")
	rootCmd.Flags().StringVar(&flags.decisionPath, "decision-path", "", "Optional path to write the decision JSON artifact")
	rootCmd.Flags().StringVar(&flags.logLevel, "log-level", "INFO", "One of DEBUG, INFO, WARNING, ERROR")
	rootCmd.Flags().StringVar(&flags.configDir, "config-dir", "config", "Directory containing settings.yml")
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &argumentError{msg: err.Error()}
	})
}

func runDecision(cmd *cobra.Command, args []string) error {
	if flags.asin == "" && flags.barcode == "" {
		return &argumentError{msg: "either --asin or --barcode must be provided"}
	}
	if flags.purchaseCost == "" {
		return &argumentError{msg: "--purchase-cost is required"}
	}

	purchaseCost, err := decimalFlag(flags.purchaseCost)
	if err != nil {
		return &argumentError{msg: err.Error()}
	}
	for _, raw := range []string{flags.inboundShipping, flags.packaging, flags.storageFee, flags.taxes, flags.targetPrice, flags.returnRate} {
		if raw == "" {
			continue
		}
		if _, parseErr := decimalFlag(raw); parseErr != nil {
			return &argumentError{msg: parseErr.Error()}
		}
	}

	settings, err := config.Load(flags.configDir, flags.env)
	if err != nil {
		return &configError{msg: err.Error()}
	}

	logger, err := config.NewLogger(flags.logLevel, settings.Observability.JSONLogs, settings.SecretsForRedaction())
	if err != nil {
		return &configError{msg: err.Error()}
	}
	defer func() { _ = logger.Sync() }()

	spapiTransport := transport.New(&http.Client{},
		ratelimit.NewCircuitBreaker("spapi", ratelimit.DefaultFailureThreshold, ratelimit.DefaultCooldown),
		ratelimit.NewBudget(),
		ratelimit.NewKeySemaphore(settings.CLI.SPAPIMaxInflight),
		retryPolicy(settings),
		logger)

	keepaTransport := transport.New(&http.Client{},
		ratelimit.NewCircuitBreaker("keepa", ratelimit.DefaultFailureThreshold, ratelimit.DefaultCooldown),
		ratelimit.NewBudget(),
		ratelimit.NewKeySemaphore(settings.CLI.KeepaMaxInflight),
		retryPolicy(settings),
		logger)

	tokens := spapi.NewTokenCache(
		settings.API.SPAPI.LWAClientID,
		settings.API.SPAPI.LWAClientSecret,
		settings.API.SPAPI.RefreshToken,
		spapiTransport, http.DefaultClient, logger)

	pricingClient := spapi.New(spapi.Config{
		Host:          "sellingpartnerapi-fe.amazon.com",
		MarketplaceID: settings.API.SPAPI.MarketplaceID,
		Region:        settings.API.SPAPI.Region,
		AccessKeyID:   settings.API.SPAPI.AWSAccessKey,
		SecretKey:     settings.API.SPAPI.AWSSecretKey,
		BudgetLimit:   settings.Budget.SPAPI,
	}, spapiTransport, tokens, logger)

	historyClient, err := keepa.New(keepa.Config{
		APIKey:      settings.API.Keepa.APIKey,
		Domain:      settings.API.Keepa.Domain,
		CacheTTL:    time.Duration(settings.Cache.TTLSeconds) * time.Second,
		BudgetLimit: settings.Budget.Keepa,
	}, keepaTransport, logger)
	if err != nil {
		return &configError{msg: err.Error()}
	}

	notifyTransport := transport.New(&http.Client{},
		ratelimit.NewCircuitBreaker("notify", ratelimit.DefaultFailureThreshold, ratelimit.DefaultCooldown),
		ratelimit.NewBudget(),
		ratelimit.NewKeySemaphore(4),
		retryPolicy(settings),
		logger)
	notifier := notify.New(settings.Notify.Slack, settings.Notify.Line, notifyTransport, logger)

	pipeline := decision.New(pricingClient, historyClient, logger)

	query, err := types.NewProductQuery(flags.asin, flags.barcode)
	if err != nil {
		return &argumentError{msg: err.Error()}
	}

	input := decision.Input{
		RequestID:    uuid.NewString(),
		Query:        query,
		PurchaseCost: purchaseCost,
		Currency:     settings.API.SPAPI.DefaultCurrency,
		Costs: decision.CostOverrides{
			InboundShipping:    decimalOrDefault(flags.inboundShipping, settings.Money.InboundShipping),
			PackagingMaterials: decimalOrDefault(flags.packaging, settings.Money.PackagingMaterials),
			StorageFee:         decimalOrDefault(flags.storageFee, settings.Money.StorageFeeMonthly),
			Taxes:              decimalOrDefault(flags.taxes, decimal.Zero),
			FXSpreadBP:         intOrDefault(flags.fxSpreadBP, settings.Money.FXSpreadBP),
			ReturnRate:         decimalOrDefault(flags.returnRate, settings.Money.ReturnRate),
		},
		Thresholds: decision.Thresholds{
			MinProfit: settings.Thresholds.MinProfit,
			MinROI:    settings.Thresholds.MinROI,
			MaxRank:   settings.Thresholds.MaxRank,
		},
		MoneyQuantum:         settings.Money.Rounding,
		StaggerJitterSeconds: settings.CLI.StaggerJitterSeconds,
	}
	if target, parseErr := decimal.NewFromString(flags.targetPrice); parseErr == nil {
		input.TargetPrice = target
	}

	result := pipeline.Run(context.Background(), input)

	if result.Decision.Buy && !flags.dryRun {
		notifyResult(cmd.Context(), notifier, result, logger)
	}

	return emitResult(result)
}

func notifyResult(ctx context.Context, notifier *notify.Notifier, result decision.Result, logger *zap.Logger) {
	summary := fmt.Sprintf("buy signal: %s profit=%s roi=%s",
		firstNonEmpty(result.Inputs.ASIN, result.Inputs.Barcode),
		result.Calc.Profit.String(), result.Calc.ROI.String())

	if flags.notifySlack {
		if err := notifier.PostSlack(ctx, summary); err != nil {
			logger.Error("slack-notification-failed")
		}
	}
	if flags.notifyLine {
		if err := notifier.PostLine(ctx, summary); err != nil {
			logger.Error("line-notification-failed")
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func emitResult(result decision.Result) error {
	var (
		body []byte
		err  error
	)
	if flags.pretty {
		body, err = jsonutil.MarshalIndent(result, "", "  ")
	} else {
		body, err = jsonutil.Marshal(result)
	}
	if err != nil {
		return err
	}

	if flags.decisionPath != "" {
		return os.WriteFile(flags.decisionPath, body, 0o644)
	}
	fmt.Println(string(body))
	return nil
}

func decimalFlag(raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal value %q: %w", raw, err)
	}
	return v, nil
}

func decimalOrDefault(raw string, fallback decimal.Decimal) decimal.Decimal {
	if raw == "" {
		return fallback
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return fallback
	}
	return v
}

func intOrDefault(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func retryPolicy(settings *config.Settings) transport.RetryPolicy {
	policy := transport.DefaultRetryPolicy()
	if settings.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = settings.Retry.MaxAttempts
	}
	if settings.Retry.Base > 0 {
		policy.Base = time.Duration(settings.Retry.Base * float64(time.Second))
	}
	if settings.Retry.MaxSleep > 0 {
		policy.MaxSleep = time.Duration(settings.Retry.MaxSleep * float64(time.Second))
	}
	return policy
}
