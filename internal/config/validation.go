package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errors ValidationErrors

	if c.APIKey == "" {
		errors = append(errors, ValidationError{
			Field:   "API_KEY",
			Message: "Exchange API key is required",
		})
	}
	if c.APISecret == "" {
		errors = append(errors, ValidationError{
			Field:   "API_SECRET",
			Message: "Exchange API secret is required",
		})
	}

	if c.EmaIntervalMin <= 0 {
		errors = append(errors, ValidationError{
			Field:   "EMA_INTERVAL",
			Message: fmt.Sprintf("Candle interval must be a positive number of minutes, got %d", c.EmaIntervalMin),
		})
	}

	if c.RunInterval < 0 {
		errors = append(errors, ValidationError{
			Field:   "RUN_INTERVAL",
			Message: "Run interval cannot be negative",
		})
	}

	if c.HTTPTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "HTTP_TIMEOUT",
			Message: "HTTP timeout must be positive",
		})
	}

	if len(c.Instruments) == 0 {
		errors = append(errors, ValidationError{
			Field:   "SYMBOL",
			Message: "At least one instrument is required",
		})
	}

	for _, inst := range c.Instruments {
		errors = append(errors, validateParams(inst.Symbol, inst.Params)...)
	}

	if c.TelegramToken != "" && len(c.TelegramChatIDs) == 0 {
		errors = append(errors, ValidationError{
			Field:   "TELEGRAM_CHAT_ID",
			Message: "A chat id is required when a Telegram bot token is set",
		})
	}

	if len(errors) > 0 {
		return errors
	}

	return nil
}

func validateParams(symbol string, p StrategyParams) ValidationErrors {
	var errors ValidationErrors

	field := func(name string) string {
		return fmt.Sprintf("%s.%s", symbol, name)
	}

	if p.Leverage <= 0 {
		errors = append(errors, ValidationError{
			Field:   field("leverage"),
			Message: fmt.Sprintf("Leverage must be a positive integer, got %d", p.Leverage),
		})
	}
	if p.ProfitPnlTarget <= 0 {
		errors = append(errors, ValidationError{
			Field:   field("profit_pnl_target"),
			Message: "Profit PnL target must be a positive fraction",
		})
	}
	if p.ProfitBalanceThreshold < 0 {
		errors = append(errors, ValidationError{
			Field:   field("profit_balance_threshold"),
			Message: "Profit balance threshold cannot be negative",
		})
	}
	if p.InitialEntryPct <= 0 || p.InitialEntryPct >= 1 {
		errors = append(errors, ValidationError{
			Field:   field("initial_entry_pct"),
			Message: fmt.Sprintf("Initial entry fraction must be in (0, 1), got %v", p.InitialEntryPct),
		})
	}
	if p.AddTriggerDropPct <= 0 || p.AddTriggerDropPct >= 1 {
		errors = append(errors, ValidationError{
			Field:   field("add_trigger_drop_pct"),
			Message: fmt.Sprintf("Add trigger drop fraction must be in (0, 1), got %v", p.AddTriggerDropPct),
		})
	}
	if p.PositionCeilingPct <= 0 || p.PositionCeilingPct > 1 {
		errors = append(errors, ValidationError{
			Field:   field("position_ceiling_pct"),
			Message: fmt.Sprintf("Position ceiling fraction must be in (0, 1], got %v", p.PositionCeilingPct),
		})
	}
	if p.MaxMarginPct < 0 || p.MaxMarginPct > 1 {
		errors = append(errors, ValidationError{
			Field:   field("max_margin_pct"),
			Message: fmt.Sprintf("Margin cap fraction must be in [0, 1], got %v", p.MaxMarginPct),
		})
	}

	return errors
}
