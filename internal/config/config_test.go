package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const minimalSettingsYAML = `
api:
  spapi:
    marketplace_id: A1VC38T7YXB528
    region: us-west-2
    lwa_client_id: id
    lwa_client_secret: secret
    refresh_token: refresh
    aws_access_key: AKID
    aws_secret_key: awssecret
    default_currency: USD
  keepa:
    api_key: keepakey
    domain: 1
retry:
  max_attempts: 5
  base: 0.5
  max_sleep: 10.0
budget:
  spapi: 120
  keepa: 150
cli:
  spapi_max_inflight: 1
  keepa_max_inflight: 1
`

func writeSettings(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadAppliesDefaultsAndValidates(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, "settings.yml", minimalSettingsYAML)

	settings, err := Load(dir, "")
	require.NoError(t, err)
	require.Equal(t, "A1VC38T7YXB528", settings.API.SPAPI.MarketplaceID)
	require.Equal(t, 5, settings.Retry.MaxAttempts)
}

func TestLoadAppliesEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, "settings.yml", minimalSettingsYAML)
	writeSettings(t, dir, filepath.Join("env", "staging.yml"), "budget:\n  spapi: 5\n")

	settings, err := Load(dir, "staging")
	require.NoError(t, err)
	require.Equal(t, 5, settings.Budget.SPAPI)
	require.Equal(t, 150, settings.Budget.Keepa)
}

func TestLoadAppliesEnvironmentVariableOverride(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, "settings.yml", minimalSettingsYAML)

	t.Setenv("SEDORI__BUDGET__SPAPI", "7")
	settings, err := Load(dir, "")
	require.NoError(t, err)
	require.Equal(t, 7, settings.Budget.SPAPI)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir, "")
	require.ErrorIs(t, err, ErrMissingSettingsFile)
}

func TestLoadRejectsMissingRequiredField(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, "settings.yml", "api:\n  spapi:\n    region: us-west-2\n  keepa:\n    api_key: k\n")
	_, err := Load(dir, "")
	require.Error(t, err)
}

func TestSecretsForRedactionOmitsEmptyValues(t *testing.T) {
	dir := t.TempDir()
	writeSettings(t, dir, "settings.yml", minimalSettingsYAML)
	settings, err := Load(dir, "")
	require.NoError(t, err)

	secrets := settings.SecretsForRedaction()
	require.Equal(t, "secret", secrets["lwa_client_secret"])
	_, hasSlackToken := secrets["slack_token"]
	require.False(t, hasSlackToken)
}
