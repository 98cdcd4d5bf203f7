package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/Veraticus/circdesk/internal/circulation"
	"github.com/Veraticus/circdesk/internal/common"
	"github.com/Veraticus/circdesk/internal/outbox"
	"github.com/Veraticus/circdesk/internal/service"
	"github.com/Veraticus/circdesk/internal/sheets"
	"github.com/Veraticus/circdesk/internal/webapp"
)

// Gateway kinds accepted by gateway.kind.
const (
	GatewaySheets = "sheets"
	GatewayWebApp = "webapp"
)

// LoadCirculationConfig reads the desk policy from circulation.* keys.
func LoadCirculationConfig() (circulation.Config, error) {
	config := circulation.DefaultConfig()

	if tz := viper.GetString("circulation.time_zone"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return config, fmt.Errorf("%w: circulation.time_zone %q: %w", common.ErrInvalidConfig, tz, err)
		}
		config.Location = loc
	}
	if v := viper.GetString("circulation.fine_per_day"); v != "" {
		rate, err := decimal.NewFromString(v)
		if err != nil || rate.IsNegative() {
			return config, fmt.Errorf("%w: circulation.fine_per_day %q", common.ErrInvalidConfig, v)
		}
		config.FinePerDay = rate
	}
	if viper.IsSet("circulation.loan_days") {
		config.LoanDays = viper.GetInt("circulation.loan_days")
	}
	if viper.IsSet("circulation.renewal_days") {
		config.RenewalDays = viper.GetInt("circulation.renewal_days")
	}
	if viper.IsSet("circulation.max_renewals") {
		config.MaxRenewals = viper.GetInt("circulation.max_renewals")
	}

	if config.LoanDays <= 0 || config.RenewalDays <= 0 {
		return config, fmt.Errorf("%w: loan and renewal periods must be positive", common.ErrInvalidConfig)
	}
	if config.MaxRenewals < 0 {
		return config, fmt.Errorf("%w: circulation.max_renewals cannot be negative", common.ErrInvalidConfig)
	}
	return config, nil
}

// LoadOutboxConfig reads dispatcher settings from outbox.* keys.
func LoadOutboxConfig() outbox.Config {
	config := outbox.DefaultConfig()

	if viper.IsSet("outbox.flush_interval") {
		config.FlushInterval = viper.GetDuration("outbox.flush_interval")
	}
	if viper.IsSet("outbox.batch_size") {
		config.BatchSize = viper.GetInt("outbox.batch_size")
	}
	if viper.IsSet("outbox.max_delivery_attempts") {
		config.MaxDeliveryAttempts = viper.GetInt("outbox.max_delivery_attempts")
	}
	if viper.IsSet("outbox.retry_attempts") {
		config.Retry.MaxAttempts = viper.GetInt("outbox.retry_attempts")
	}
	return config
}

// LoadWebAppConfig reads the web app gateway settings from gateway.* keys.
func LoadWebAppConfig() (webapp.Config, error) {
	config := webapp.DefaultConfig()
	config.URL = viper.GetString("gateway.url")
	if viper.IsSet("gateway.timeout") {
		config.Timeout = viper.GetDuration("gateway.timeout")
	}
	if viper.IsSet("gateway.retry_attempts") {
		config.RetryAttempts = viper.GetInt("gateway.retry_attempts")
	}
	return config, config.Validate()
}

// LoadGateway builds the gateway selected by gateway.kind, Sheets by default.
func LoadGateway(ctx context.Context, logger *slog.Logger) (service.Gateway, error) {
	switch kind := viper.GetString("gateway.kind"); kind {
	case "", GatewaySheets:
		sheetsConfig, err := LoadSheetsConfig()
		if err != nil {
			return nil, fmt.Errorf("invalid sheets configuration: %w", err)
		}
		gw, err := sheets.NewGateway(ctx, *sheetsConfig, logger)
		if err != nil {
			return nil, err
		}
		return gw, nil
	case GatewayWebApp:
		webConfig, err := LoadWebAppConfig()
		if err != nil {
			return nil, err
		}
		gw, err := webapp.NewGateway(webConfig, logger)
		if err != nil {
			return nil, err
		}
		return gw, nil
	default:
		return nil, fmt.Errorf("%w: unknown gateway.kind %q (want %s or %s)", common.ErrInvalidConfig, kind, GatewaySheets, GatewayWebApp)
	}
}
