package config

import (
	"github.com/spf13/viper"

	"github.com/Veraticus/circdesk/internal/sheets"
)

// LoadSheetsConfig loads Google Sheets configuration from Viper and environment variables.
// It follows this precedence:
// 1. Viper configuration (from config file or CIRC_ env vars)
// 2. Direct environment variables (GOOGLE_SHEETS_*)
// 3. Default values
func LoadSheetsConfig() (*sheets.Config, error) {
	config := sheets.DefaultConfig()

	if v := viper.GetString("sheets.service_account_path"); v != "" {
		config.ServiceAccountPath = ExpandPath(v)
	}
	if v := viper.GetString("sheets.token_file"); v != "" {
		config.TokenFile = ExpandPath(v)
	}
	setString(&config.ClientID, "sheets.client_id")
	setString(&config.ClientSecret, "sheets.client_secret")
	setString(&config.RefreshToken, "sheets.refresh_token")
	setString(&config.SpreadsheetID, "sheets.spreadsheet_id")
	setString(&config.SpreadsheetName, "sheets.spreadsheet_name")
	setString(&config.TimeZone, "sheets.time_zone")
	if viper.IsSet("sheets.retry_attempts") {
		config.RetryAttempts = viper.GetInt("sheets.retry_attempts")
	}
	if viper.IsSet("sheets.retry_delay") {
		config.RetryDelay = viper.GetDuration("sheets.retry_delay")
	}

	config.LoadFromEnv()
	config.ServiceAccountPath = ExpandPath(config.ServiceAccountPath)
	config.TokenFile = ExpandPath(config.TokenFile)

	if config.TokenFile == "" && config.RefreshToken == "" && config.ServiceAccountPath == "" {
		config.TokenFile = DefaultTokenFile()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setString(field *string, key string) {
	if v := viper.GetString(key); v != "" {
		*field = v
	}
}
