package eod

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTradeLog(t *testing.T, dir string, day time.Time, lines string) {
	t.Helper()
	p := filepath.Join(dir, day.Format("2006-01-02")+".txt")
	require.NoError(t, os.WriteFile(p, []byte(lines), 0o644))
}

func TestSummarizeDayAggregatesPerSymbol(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRADER_LOG_DIR", dir)
	day := time.Date(2026, 8, 31, 16, 0, 0, 0, time.FixedZone("IST", 19800))

	writeTradeLog(t, dir, day, `{"Symbol":"RELIANCE","Side":"B","Qty":100,"Price":100.0,"Reason":"BREAKOUT"}
{"Symbol":"RELIANCE","Side":"S","Qty":60,"Price":102.0,"Reason":"TARGET"}
{"Symbol":"RELIANCE","Side":"S","Qty":40,"Price":101.0,"Reason":"EOD_EXIT"}
{"Symbol":"HDFCBANK","Side":"S","Qty":50,"Price":200.0,"Reason":"BREAKOUT"}
{"Symbol":"HDFCBANK","Side":"B","Qty":50,"Price":198.0,"Reason":"STOP_LOSS"}
not json, skipped
`)

	out, err := SummarizeDay(day)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, recs, 4) // header, two symbols, total
	assert.Equal(t, "symbol", recs[0][0])

	// Symbols come out sorted.
	hdfc := recs[1]
	assert.Equal(t, "HDFCBANK", hdfc[0])
	assert.Equal(t, "50", hdfc[1])
	assert.Equal(t, "100.00", hdfc[5]) // 50 * (200 - 198)

	rel := recs[2]
	assert.Equal(t, "RELIANCE", rel[0])
	assert.Equal(t, "100", rel[1])
	assert.Equal(t, "100", rel[3])
	// sell avg = (60*102 + 40*101)/100 = 101.6, pnl = 100 * 1.6
	assert.Equal(t, "160.00", rel[5])

	total := recs[3]
	assert.Equal(t, "TOTAL", total[0])
	assert.Equal(t, "260.00", total[5])
}

func TestShouldRunGatesOnCloseAndExistingCSV(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRADER_LOG_DIR", dir)
	ist := time.FixedZone("IST", 19800)

	midday := time.Date(2026, 8, 31, 12, 0, 0, 0, ist)
	due, _ := ShouldRun(midday)
	assert.False(t, due, "market still open")

	closed := time.Date(2026, 8, 31, 15, 36, 0, 0, ist)
	due, outPath := ShouldRun(closed)
	assert.True(t, due)

	require.NoError(t, os.MkdirAll(filepath.Dir(outPath), 0o755))
	require.NoError(t, os.WriteFile(outPath, []byte("symbol\n"), 0o644))
	due, _ = ShouldRun(closed)
	assert.False(t, due, "summary already written")
}

func TestSummarizeDayMissingLogIsNotAnError(t *testing.T) {
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	out, err := SummarizeDay(time.Date(2026, 1, 2, 16, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, out)
}
