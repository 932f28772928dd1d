package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Side is the direction of a managed position.
type Side string

const (
	SideLong  Side = "Long"
	SideShort Side = "Short"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// StrategyParams holds the numeric knobs of the averaging strategy.
// Ratios are fractions (0.10 == 10%), never percentages.
type StrategyParams struct {
	Leverage               int     `mapstructure:"leverage" yaml:"leverage"`
	ProfitPnlTarget        float64 `mapstructure:"profit_pnl_target" yaml:"profit_pnl_target"`
	ProfitBalanceThreshold float64 `mapstructure:"profit_balance_threshold" yaml:"profit_balance_threshold"`
	InitialEntryPct        float64 `mapstructure:"initial_entry_pct" yaml:"initial_entry_pct"`
	AddTriggerDropPct      float64 `mapstructure:"add_trigger_drop_pct" yaml:"add_trigger_drop_pct"`
	PositionCeilingPct     float64 `mapstructure:"position_ceiling_pct" yaml:"position_ceiling_pct"`
	// MaxMarginPct is the hard margin-usage cap; 0 disables the cap and the
	// quadratic add taper that enforces it.
	MaxMarginPct float64 `mapstructure:"max_margin_pct" yaml:"max_margin_pct"`
}

// VolatilityThresholds gate adds and opens; any one breached marks the
// market as high-volatility.
type VolatilityThresholds struct {
	ATRRatio   float64 `mapstructure:"atr_ratio_threshold"`
	BBWidthPct float64 `mapstructure:"bb_width_threshold"`
	HistVolPct float64 `mapstructure:"hist_vol_threshold"`
}

// Instrument is one tradable target: symbol, direction, whether the engine
// may open from flat, and the strategy parameters that apply to it.
type Instrument struct {
	Symbol        string
	Side          Side
	AutomaticMode bool
	Params        StrategyParams
}

// Config holds all process configuration.
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Testnet   bool

	EmaIntervalMin int
	BotStartup     bool
	RunInterval    time.Duration // 0 means run one tick and exit
	HTTPTimeout    time.Duration
	MetricsPort    int

	LogLevel  string
	LogFormat string

	InstrumentsFile string

	TelegramToken   string
	TelegramChatIDs []int64

	Strategy   StrategyParams
	Volatility VolatilityThresholds

	Instruments []Instrument
}

// envBindings maps viper keys to the stable environment names. The names
// are part of the deployment contract and must not change.
var envBindings = map[string]string{
	"api_key":                  "API_KEY",
	"api_secret":               "API_SECRET",
	"symbol":                   "SYMBOL",
	"ema_interval":             "EMA_INTERVAL",
	"testnet":                  "TESTNET",
	"bot_startup":              "BOT_STARTUP",
	"telegram_bot_token":       "TELEGRAM_BOT_TOKEN",
	"telegram_chat_id":         "TELEGRAM_CHAT_ID",
	"base_url":                 "BASE_URL",
	"run_interval":             "RUN_INTERVAL",
	"http_timeout":             "HTTP_TIMEOUT",
	"metrics_port":             "METRICS_PORT",
	"log_level":                "LOG_LEVEL",
	"log_format":               "LOG_FORMAT",
	"instruments_file":         "INSTRUMENTS_FILE",
	"leverage":                 "LEVERAGE",
	"profit_pnl_target":        "PROFIT_PNL_TARGET",
	"profit_balance_threshold": "PROFIT_BALANCE_THRESHOLD",
	"initial_entry_pct":        "INITIAL_ENTRY_PCT",
	"add_trigger_drop_pct":     "ADD_TRIGGER_DROP_PCT",
	"position_ceiling_pct":     "POSITION_CEILING_PCT",
	"max_margin_pct":           "MAX_MARGIN_PCT",
	"atr_ratio_threshold":      "ATR_RATIO_THRESHOLD",
	"bb_width_threshold":       "BB_WIDTH_THRESHOLD",
	"hist_vol_threshold":       "HIST_VOL_THRESHOLD",
}

// Load loads configuration from environment variables and an optional
// config file. Environment always wins over the file.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	setDefaults(v)

	cfg := &Config{
		APIKey:    v.GetString("api_key"),
		APISecret: v.GetString("api_secret"),
		BaseURL:   v.GetString("base_url"),
		Testnet:   v.GetBool("testnet"),

		EmaIntervalMin: v.GetInt("ema_interval"),
		BotStartup:     v.GetBool("bot_startup"),
		RunInterval:    time.Duration(v.GetInt("run_interval")) * time.Second,
		HTTPTimeout:    time.Duration(v.GetInt("http_timeout")) * time.Second,
		MetricsPort:    v.GetInt("metrics_port"),

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),

		InstrumentsFile: v.GetString("instruments_file"),

		TelegramToken: v.GetString("telegram_bot_token"),

		Strategy: StrategyParams{
			Leverage:               v.GetInt("leverage"),
			ProfitPnlTarget:        v.GetFloat64("profit_pnl_target"),
			ProfitBalanceThreshold: v.GetFloat64("profit_balance_threshold"),
			InitialEntryPct:        v.GetFloat64("initial_entry_pct"),
			AddTriggerDropPct:      v.GetFloat64("add_trigger_drop_pct"),
			PositionCeilingPct:     v.GetFloat64("position_ceiling_pct"),
			MaxMarginPct:           v.GetFloat64("max_margin_pct"),
		},
		Volatility: VolatilityThresholds{
			ATRRatio:   v.GetFloat64("atr_ratio_threshold"),
			BBWidthPct: v.GetFloat64("bb_width_threshold"),
			HistVolPct: v.GetFloat64("hist_vol_threshold"),
		},
	}

	chatIDs, err := parseChatIDs(v.GetString("telegram_chat_id"))
	if err != nil {
		return nil, err
	}
	cfg.TelegramChatIDs = chatIDs

	instruments, err := ParseInstruments(v.GetString("symbol"), cfg.Strategy)
	if err != nil {
		return nil, err
	}
	cfg.Instruments = instruments

	if cfg.InstrumentsFile != "" {
		overrides, err := LoadOverrides(cfg.InstrumentsFile)
		if err != nil {
			return nil, err
		}
		ApplyOverrides(cfg.Instruments, overrides)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("base_url", "")
	v.SetDefault("testnet", false)
	v.SetDefault("ema_interval", 1)
	v.SetDefault("bot_startup", false)
	v.SetDefault("run_interval", 0)
	v.SetDefault("http_timeout", 10)
	v.SetDefault("metrics_port", 9185)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("instruments_file", "")

	// Strategy defaults
	v.SetDefault("leverage", 10)
	v.SetDefault("profit_pnl_target", 0.10)
	v.SetDefault("profit_balance_threshold", 0.003)
	v.SetDefault("initial_entry_pct", 0.006)
	v.SetDefault("add_trigger_drop_pct", 0.02)
	v.SetDefault("position_ceiling_pct", 0.10)
	v.SetDefault("max_margin_pct", 0.0)

	// Volatility gate defaults
	v.SetDefault("atr_ratio_threshold", 1.5)
	v.SetDefault("bb_width_threshold", 8.0)
	v.SetDefault("hist_vol_threshold", 5.0)
}

// ParseInstruments parses the SYMBOL environment value: a comma-separated
// list of SYMBOL:SIDE:AUTO triples, e.g. "BTCUSDT:Long:true,ETHUSDT:Short:no".
// AUTO is true iff the lowercased token is one of "true", "1", "yes"; a
// missing AUTO token means false.
func ParseInstruments(raw string, defaults StrategyParams) ([]Instrument, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("SYMBOL is required: expected comma-separated SYMBOL:SIDE:AUTO triples")
	}

	seen := make(map[string]bool)
	var instruments []Instrument

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.SplitN(entry, ":", 3)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		if len(parts) < 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid SYMBOL entry %q: expected SYMBOL:SIDE:AUTO", entry)
		}

		symbol := strings.ToUpper(parts[0])
		if seen[symbol] {
			return nil, fmt.Errorf("duplicate symbol %s in SYMBOL", symbol)
		}
		seen[symbol] = true

		side, err := parseSide(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid SYMBOL entry %q: %w", entry, err)
		}

		auto := false
		if len(parts) == 3 {
			auto = parseAuto(parts[2])
		}

		instruments = append(instruments, Instrument{
			Symbol:        symbol,
			Side:          side,
			AutomaticMode: auto,
			Params:        defaults,
		})
	}

	if len(instruments) == 0 {
		return nil, fmt.Errorf("SYMBOL contains no instruments")
	}

	return instruments, nil
}

func parseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "long":
		return SideLong, nil
	case "short":
		return SideShort, nil
	default:
		return "", fmt.Errorf("side must be Long or Short, got %q", s)
	}
}

func parseAuto(s string) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

func parseChatIDs(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var ids []int64
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		id, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", tok, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// DefaultBaseURL returns the exchange endpoint for the configured network
// unless BASE_URL overrides it.
func (c *Config) DefaultBaseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	if c.Testnet {
		return "https://testnet-api.phemex.com"
	}
	return "https://api.phemex.com"
}

// Environment returns the human-readable network name used in alerts.
func (c *Config) Environment() string {
	if c.Testnet {
		return "testnet"
	}
	return "mainnet"
}

// Symbols returns the configured instrument symbols in order.
func (c *Config) Symbols() []string {
	symbols := make([]string, len(c.Instruments))
	for i, inst := range c.Instruments {
		symbols[i] = inst.Symbol
	}
	return symbols
}
