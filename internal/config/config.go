// Package config loads settings.yml plus an optional per-environment
// overlay plus SEDORI__-prefixed environment variables, in that order of
// increasing precedence. Grounded on the original config_loader.py's
// load_settings and its _apply_env_overrides / _deep_update helpers, with
// a Validate() method checking required fields and numeric ranges.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// RetrySettings configures internal/transport's retry policy.
type RetrySettings struct {
	MaxAttempts int     `yaml:"max_attempts"`
	Base        float64 `yaml:"base"`
	MaxSleep    float64 `yaml:"max_sleep"`
}

// CacheSettings configures internal/keepa's TTL cache.
type CacheSettings struct {
	TTLSeconds      int `yaml:"ttl_seconds"`
	CleanupInterval int `yaml:"cleanup_interval"`
}

// BudgetSettings configures internal/ratelimit's per-service call ceilings.
type BudgetSettings struct {
	SPAPI int `yaml:"spapi"`
	Keepa int `yaml:"keepa"`
}

// MoneySettings configures the profit calculator's default cost inputs.
type MoneySettings struct {
	Rounding           decimal.Decimal `yaml:"rounding"`
	FXSpreadBP         int             `yaml:"fx_spread_bp"`
	ReturnRate         decimal.Decimal `yaml:"return_rate"`
	StorageFeeMonthly  decimal.Decimal `yaml:"storage_fee_monthly"`
	InboundShipping    decimal.Decimal `yaml:"inbound_shipping"`
	PackagingMaterials decimal.Decimal `yaml:"packaging_materials"`
}

// ThresholdSettings configures the buy/no-buy decision gate.
type ThresholdSettings struct {
	MinProfit decimal.Decimal `yaml:"min_profit"`
	MinROI    decimal.Decimal `yaml:"min_roi"`
	MaxRank   *int            `yaml:"max_rank"`
}

// SlackSettings configures the Slack notifier.
type SlackSettings struct {
	Enabled bool   `yaml:"enabled"`
	Channel string `yaml:"channel"`
	Webhook string `yaml:"webhook"`
	Token   string `yaml:"token"`
}

// LineSettings configures the LINE notifier.
type LineSettings struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// NotifySettings groups the notification-channel settings.
type NotifySettings struct {
	Slack SlackSettings `yaml:"slack"`
	Line  LineSettings  `yaml:"line"`
}

// KeepaSettings configures internal/keepa's upstream call.
type KeepaSettings struct {
	APIKey string `yaml:"api_key"`
	Domain int    `yaml:"domain"`
}

// SPAPISettings configures internal/spapi's upstream calls.
type SPAPISettings struct {
	MarketplaceID   string `yaml:"marketplace_id"`
	Region          string `yaml:"region"`
	LWAClientID     string `yaml:"lwa_client_id"`
	LWAClientSecret string `yaml:"lwa_client_secret"`
	RefreshToken    string `yaml:"refresh_token"`
	AWSAccessKey    string `yaml:"aws_access_key"`
	AWSSecretKey    string `yaml:"aws_secret_key"`
	DefaultCurrency string `yaml:"default_currency"`
}

// APISettings groups the two upstream API credential blocks.
type APISettings struct {
	SPAPI SPAPISettings `yaml:"spapi"`
	Keepa KeepaSettings `yaml:"keepa"`
}

// ObservabilitySettings configures logging.
type ObservabilitySettings struct {
	JSONLogs bool   `yaml:"json_logs"`
	LogLevel string `yaml:"log_level"`
}

// CLISettings configures the CLI's own runtime knobs.
type CLISettings struct {
	StaggerJitterSeconds float64 `yaml:"stagger_jitter_seconds"`
	SPAPIMaxInflight     int     `yaml:"spapi_max_inflight"`
	KeepaMaxInflight     int     `yaml:"keepa_max_inflight"`
}

// Settings is the root configuration document.
type Settings struct {
	API           APISettings           `yaml:"api"`
	Notify        NotifySettings        `yaml:"notify"`
	Thresholds    ThresholdSettings     `yaml:"thresholds"`
	Retry         RetrySettings         `yaml:"retry"`
	Cache         CacheSettings         `yaml:"cache"`
	Money         MoneySettings         `yaml:"money"`
	Budget        BudgetSettings        `yaml:"budget"`
	Observability ObservabilitySettings `yaml:"observability"`
	CLI           CLISettings           `yaml:"cli"`
}

// ErrMissingSettingsFile is returned when config/settings.yml is absent.
var ErrMissingSettingsFile = errors.New("config: missing settings.yml")

const envPrefix = "SEDORI__"

// Load reads config/settings.yml, overlays config/env/<env>.yml when env
// is non-empty, applies a .env file if present, then applies
// SEDORI__-prefixed environment variables, and validates the result.
func Load(configDir, env string) (*Settings, error) {
	_ = godotenv.Load()

	defaultsPath := filepath.Join(configDir, "settings.yml")
	raw, err := os.ReadFile(defaultsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissingSettingsFile, defaultsPath)
		}
		return nil, fmt.Errorf("config: read %s: %w", defaultsPath, err)
	}

	merged := map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &merged); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", defaultsPath, err)
	}

	if env != "" {
		envPath := filepath.Join(configDir, "env", env+".yml")
		if overlayRaw, readErr := os.ReadFile(envPath); readErr == nil {
			overlay := map[string]interface{}{}
			if yamlErr := yaml.Unmarshal(overlayRaw, &overlay); yamlErr != nil {
				return nil, fmt.Errorf("config: parse %s: %w", envPath, yamlErr)
			}
			deepUpdate(merged, overlay)
		}
	}

	applyEnvOverrides(merged, os.Environ())

	remarshaled, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("config: remarshal merged settings: %w", err)
	}

	var settings Settings
	if err := yaml.Unmarshal(remarshaled, &settings); err != nil {
		return nil, fmt.Errorf("config: decode merged settings: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &settings, nil
}

// Validate checks required fields and numeric ranges.
func (s *Settings) Validate() error {
	if s.API.SPAPI.MarketplaceID == "" {
		return errors.New("api.spapi.marketplace_id is required")
	}
	if s.API.SPAPI.Region == "" {
		return errors.New("api.spapi.region is required")
	}
	if s.API.Keepa.APIKey == "" {
		return errors.New("api.keepa.api_key is required")
	}
	if s.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", s.Retry.MaxAttempts)
	}
	if s.Retry.Base <= 0 {
		return fmt.Errorf("retry.base must be positive, got %f", s.Retry.Base)
	}
	if s.Budget.SPAPI < 1 {
		return fmt.Errorf("budget.spapi must be >= 1, got %d", s.Budget.SPAPI)
	}
	if s.Budget.Keepa < 1 {
		return fmt.Errorf("budget.keepa must be >= 1, got %d", s.Budget.Keepa)
	}
	if s.CLI.SPAPIMaxInflight < 1 || s.CLI.KeepaMaxInflight < 1 {
		return errors.New("cli.spapi_max_inflight and cli.keepa_max_inflight must be >= 1")
	}
	return nil
}

// SecretsForRedaction returns the set of configured secret values that
// must never reach a log line in the clear.
func (s *Settings) SecretsForRedaction() map[string]string {
	secrets := map[string]string{
		"lwa_client_id":     s.API.SPAPI.LWAClientID,
		"lwa_client_secret": s.API.SPAPI.LWAClientSecret,
		"refresh_token":     s.API.SPAPI.RefreshToken,
		"aws_access_key":    s.API.SPAPI.AWSAccessKey,
		"aws_secret_key":    s.API.SPAPI.AWSSecretKey,
		"keepa_api_key":     s.API.Keepa.APIKey,
	}
	if s.Notify.Slack.Token != "" {
		secrets["slack_token"] = s.Notify.Slack.Token
	}
	if s.Notify.Slack.Webhook != "" {
		secrets["slack_webhook"] = s.Notify.Slack.Webhook
	}
	if s.Notify.Line.Token != "" {
		secrets["line_token"] = s.Notify.Line.Token
	}
	for key, value := range secrets {
		if value == "" {
			delete(secrets, key)
		}
	}
	return secrets
}

func deepUpdate(dst, src map[string]interface{}) {
	for key, value := range src {
		if nested, ok := value.(map[string]interface{}); ok {
			if existing, ok := dst[key].(map[string]interface{}); ok {
				deepUpdate(existing, nested)
				continue
			}
		}
		dst[key] = value
	}
}

func applyEnvOverrides(settings map[string]interface{}, environ []string) {
	for _, entry := range environ {
		key, value, found := strings.Cut(entry, "=")
		if !found || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		path := strings.Split(strings.ToLower(strings.TrimPrefix(key, envPrefix)), "__")
		assignNested(settings, path, coerceScalar(value))
	}
}

func assignNested(target map[string]interface{}, path []string, value interface{}) {
	cursor := target
	for _, segment := range path[:len(path)-1] {
		next, ok := cursor[segment].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cursor[segment] = next
		}
		cursor = next
	}
	cursor[path[len(path)-1]] = value
}

// coerceScalar turns a raw environment string into bool/int/float where it
// unambiguously parses as one, otherwise leaves it as a string.
func coerceScalar(value string) interface{} {
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}
