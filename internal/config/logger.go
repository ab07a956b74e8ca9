package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const redactedMask = "***REDACTED***"

// NewLogger builds a zap logger at the given level over
// zap.NewProductionConfig, wrapped in a secretRedactor core so configured
// secret values never reach a log line.
func NewLogger(level string, jsonLogs bool, secrets map[string]string) (*zap.Logger, error) {
	if level == "" {
		level = "info"
	}
	if strings.EqualFold(level, "warning") {
		level = "warn"
	}

	var parsedLevel zapcore.Level
	if err := parsedLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	if jsonLogs {
		cfg.Encoding = "json"
	} else {
		cfg.Encoding = "console"
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return newSecretRedactor(core, secrets)
	}))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// secretRedactor wraps a zapcore.Core and replaces any configured secret
// substring in the message or string-valued fields with a fixed mask
// before the entry reaches the underlying encoder.
type secretRedactor struct {
	zapcore.Core
	secrets map[string]string
}

func newSecretRedactor(core zapcore.Core, secrets map[string]string) zapcore.Core {
	filtered := make(map[string]string, len(secrets))
	for k, v := range secrets {
		if v != "" {
			filtered[k] = v
		}
	}
	return &secretRedactor{Core: core, secrets: filtered}
}

func (r *secretRedactor) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if r.Core.Enabled(entry.Level) {
		return checked.AddCore(entry, r)
	}
	return checked
}

func (r *secretRedactor) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if len(r.secrets) == 0 {
		return r.Core.Write(entry, fields)
	}

	entry.Message = r.redact(entry.Message)
	redactedFields := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		if f.Type == zapcore.StringType {
			f.String = r.redact(f.String)
		}
		redactedFields[i] = f
	}
	return r.Core.Write(entry, redactedFields)
}

func (r *secretRedactor) With(fields []zapcore.Field) zapcore.Core {
	redactedFields := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		if f.Type == zapcore.StringType {
			f.String = r.redact(f.String)
		}
		redactedFields[i] = f
	}
	return &secretRedactor{Core: r.Core.With(redactedFields), secrets: r.secrets}
}

func (r *secretRedactor) redact(value string) string {
	for _, secret := range r.secrets {
		value = strings.ReplaceAll(value, secret, redactedMask)
	}
	return value
}
