package store

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Account holds one brokerage account's kind and credentials. Which fields
// are required depends on the broker kind.
type Account struct {
	Name       string `yaml:"name"`
	Broker     string `yaml:"broker"` // finvasia, zebu, flattrade, dhan, zerodha
	UserID     string `yaml:"user_id"`
	Password   string `yaml:"password"`
	TOTPSecret string `yaml:"totp_secret"`
	Factor2    string `yaml:"factor2"`
	IMEI       string `yaml:"imei"`
	VendorCode string `yaml:"vendor_code"`
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	ClientID   string `yaml:"client_id"`
	// AccessToken is used by brokers whose token is issued out of band.
	AccessToken string `yaml:"access_token"`
}

type Config struct {
	Accounts []Account `yaml:"accounts"`

	Strategy struct {
		Name           string   `yaml:"name"`
		CashToTrade    float64  `yaml:"cash_to_trade"`
		DataAccount    string   `yaml:"data_account"`
		TradingAccount string   `yaml:"trading_account"`
		Symbols        []string `yaml:"symbols"`

		// Breakout parameters; zero values fall back to defaults.
		BreakoutMarginPct float64 `yaml:"breakout_margin_pct"`
		StopLossPct       float64 `yaml:"stop_loss_pct"`
		SlShiftAfterPct   float64 `yaml:"sl_shift_after_pct"`
		Target1Pct        float64 `yaml:"target1_pct"`
		Target2Pct        float64 `yaml:"target2_pct"`
		TrailSlPct        float64 `yaml:"trail_sl_pct"`
		BreakoutWidenPct  float64 `yaml:"breakout_widen_pct"`
		PartialExitPct    int     `yaml:"partial_exit_pct"`
		MaxSlHits         int     `yaml:"max_sl_hits"`
		MaxTargets        int     `yaml:"max_targets"`
		RangeEndTime      string  `yaml:"range_end_time"` // "09:20"
		MaxEntryTime      string  `yaml:"max_entry_time"` // "14:55"
		EODExitTime       string  `yaml:"eod_exit_time"`  // "15:10"
	} `yaml:"strategy"`

	Portfolio struct {
		MaxOpen   int `yaml:"max_open"`
		MaxTrades int `yaml:"max_trades"`
		MaxSlHits int `yaml:"max_sl_hits"`
	} `yaml:"portfolio"`

	DayCloseTime string `yaml:"day_close_time"` // process exits after this, "15:35"
	MetricsAddr  string `yaml:"metrics_addr"`
	HolidaysFile string `yaml:"holidays_file"`
	InstrumentDB string `yaml:"instrument_db"`
}

func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return errors.New("accounts cannot be empty")
	}
	for _, a := range c.Accounts {
		switch a.Broker {
		case "finvasia", "zebu", "flattrade", "dhan", "zerodha":
		default:
			return fmt.Errorf("unknown broker kind '%s' for account '%s'", a.Broker, a.Name)
		}
	}
	if c.Strategy.CashToTrade <= 0 {
		return fmt.Errorf("strategy.cash_to_trade must be positive, got %.2f", c.Strategy.CashToTrade)
	}
	if len(c.Strategy.Symbols) == 0 {
		return errors.New("strategy.symbols cannot be empty")
	}
	if c.AccountByName(c.Strategy.DataAccount) == nil {
		return fmt.Errorf("strategy.data_account '%s' not found in accounts", c.Strategy.DataAccount)
	}
	if c.AccountByName(c.Strategy.TradingAccount) == nil {
		return fmt.Errorf("strategy.trading_account '%s' not found in accounts", c.Strategy.TradingAccount)
	}
	return nil
}

// AccountByName returns the account with the given name, or nil.
func (c *Config) AccountByName(name string) *Account {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i]
		}
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.Portfolio.MaxOpen == 0 {
		c.Portfolio.MaxOpen = 1
	}
	if c.Portfolio.MaxTrades == 0 {
		c.Portfolio.MaxTrades = 100
	}
	if c.Portfolio.MaxSlHits == 0 {
		c.Portfolio.MaxSlHits = 10
	}
	if c.DayCloseTime == "" {
		c.DayCloseTime = "15:35"
	}
	if c.HolidaysFile == "" {
		c.HolidaysFile = "holidays.txt"
	}
	if c.InstrumentDB == "" {
		c.InstrumentDB = "db.sqlite"
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}
