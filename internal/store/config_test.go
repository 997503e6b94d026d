package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
accounts:
  - name: data
    broker: finvasia
    user_id: FA0001
    password: secret
    totp_secret: JBSWY3DPEHPK3PXP
    vendor_code: FA0001_U
    api_key: abc123
    imei: abc1234
  - name: trade
    broker: dhan
    client_id: "1100001"
    access_token: token
strategy:
  name: BreakoutStrategy
  cash_to_trade: 100000
  data_account: data
  trading_account: trade
  symbols: [RELIANCE, HDFCBANK]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Portfolio.MaxOpen)
	assert.Equal(t, 100, cfg.Portfolio.MaxTrades)
	assert.Equal(t, 10, cfg.Portfolio.MaxSlHits)
	assert.Equal(t, "15:35", cfg.DayCloseTime)
	assert.Equal(t, "holidays.txt", cfg.HolidaysFile)
	assert.Equal(t, "db.sqlite", cfg.InstrumentDB)
}

func TestLoadConfigAccounts(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	data := cfg.AccountByName("data")
	require.NotNil(t, data)
	assert.Equal(t, "finvasia", data.Broker)
	assert.Equal(t, "FA0001", data.UserID)

	assert.Nil(t, cfg.AccountByName("missing"))
}

func TestLoadConfigRejectsUnknownBroker(t *testing.T) {
	body := `
accounts:
  - name: data
    broker: robinhood
strategy:
  cash_to_trade: 1000
  data_account: data
  trading_account: data
  symbols: [X]
`
	_, err := LoadConfig(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown broker kind")
}

func TestLoadConfigRejectsMissingSymbols(t *testing.T) {
	body := `
accounts:
  - name: data
    broker: zebu
strategy:
  cash_to_trade: 1000
  data_account: data
  trading_account: data
`
	_, err := LoadConfig(writeConfig(t, body))
	assert.Error(t, err)
}

func TestLoadConfigRejectsDanglingAccountRef(t *testing.T) {
	body := `
accounts:
  - name: data
    broker: zebu
strategy:
  cash_to_trade: 1000
  data_account: data
  trading_account: nosuch
  symbols: [X]
`
	_, err := LoadConfig(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trading_account")
}
