package tradelog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRADER_LOG_DIR", dir)

	require.NoError(t, Append(Entry{Symbol: "RELIANCE", Side: "B", Qty: 10, Price: 101.5, Reason: "BREAKOUT"}))
	require.NoError(t, Append(Entry{Symbol: "RELIANCE", Side: "S", Qty: 10, Price: 102.0, Reason: "TARGET"}))

	day := time.Now().In(time.FixedZone("IST", 19800)).Format("2006-01-02")
	f, err := os.Open(filepath.Join(dir, day+".txt"))
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)
	assert.Equal(t, "RELIANCE", entries[0].Symbol)
	assert.Equal(t, "B", entries[0].Side)
	assert.NotEmpty(t, entries[0].Time, "append stamps the time")
	assert.Equal(t, "TARGET", entries[1].Reason)
}

func TestCompressOlderGzipsStaleLogs(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRADER_LOG_DIR", dir)

	stale := filepath.Join(dir, "2026-01-02.txt")
	require.NoError(t, os.WriteFile(stale, []byte("{}\n"), 0o644))
	old := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(stale, old, old))

	fresh := filepath.Join(dir, "2026-08-31.txt")
	require.NoError(t, os.WriteFile(fresh, []byte("{}\n"), 0o644))

	require.NoError(t, CompressOlder(7))

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale log removed after compression")
	_, err = os.Stat(stale + ".gz")
	assert.NoError(t, err)
	_, err = os.Stat(fresh)
	assert.NoError(t, err, "fresh log untouched")
}
