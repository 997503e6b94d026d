// Package instruments resolves trading symbols to broker instrument tokens
// from the exchange scrip master, downloaded once per day and cached in
// sqlite alongside the download marker.
package instruments

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"breakout-bot/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS downloads (
	key TEXT PRIMARY KEY,
	day TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS instruments (
	symbol     TEXT NOT NULL,
	instrument TEXT NOT NULL,
	token      INTEGER NOT NULL,
	PRIMARY KEY (symbol, instrument)
);`

// Store is the sqlite-backed token master.
type Store struct {
	db   *sql.DB
	http *http.Client
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("instruments: init schema: %w", err)
	}
	return &Store{db: db, http: &http.Client{Timeout: 2 * time.Minute}}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// EnsureMaster downloads and loads the scrip master from url unless it was
// already downloaded today (keyed by url).
func (s *Store) EnsureMaster(ctx context.Context, url string) error {
	today := time.Now().Format("2006-01-02")

	var day string
	err := s.db.QueryRowContext(ctx, "SELECT day FROM downloads WHERE key = ?", url).Scan(&day)
	if err == nil && day == today {
		logger.Debug(ctx, "scrip master already downloaded today", "url", url)
		return nil
	}
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	if err := s.downloadMaster(ctx, url); err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO downloads (key, day) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET day = excluded.day",
		url, today)
	return err
}

func (s *Store) downloadMaster(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("instruments: download master: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("instruments: download master: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var n int
	if bytes.HasPrefix(body, []byte("PK")) {
		// Zipped CSV master (Noren brokers).
		zr, zerr := zip.NewReader(bytes.NewReader(body), int64(len(body)))
		if zerr != nil {
			return fmt.Errorf("instruments: open master zip: %w", zerr)
		}
		if len(zr.File) == 0 {
			return fmt.Errorf("instruments: master zip is empty")
		}
		f, ferr := zr.File[0].Open()
		if ferr != nil {
			return ferr
		}
		defer f.Close()
		n, err = s.LoadCSV(ctx, f)
	} else {
		// JSON master (Flattrade scripmaster).
		n, err = s.LoadJSON(ctx, body)
	}
	if err != nil {
		return err
	}
	logger.Info(ctx, "scrip master loaded", "url", url, "instruments", n)
	return nil
}

// LoadJSON parses a {"data":[{symbol, token, ...}]} scrip master and
// replaces the stored rows. Every row is treated as an EQ instrument.
func (s *Store) LoadJSON(ctx context.Context, body []byte) (int, error) {
	var master struct {
		Data []struct {
			Symbol string          `json:"symbol"`
			Token  json.RawMessage `json:"token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &master); err != nil {
		return 0, fmt.Errorf("instruments: parse json master: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM instruments"); err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO instruments (symbol, instrument, token) VALUES (?, 'EQ', ?)")
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	count := 0
	for _, row := range master.Data {
		tok := strings.Trim(string(row.Token), `"`)
		token, err := strconv.ParseUint(tok, 10, 32)
		if err != nil {
			continue
		}
		if _, err := stmt.ExecContext(ctx, strings.ToUpper(strings.TrimSpace(row.Symbol)), token); err != nil {
			return 0, err
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// LoadCSV parses a scrip-master CSV (header row with Symbol, Token and
// Instrument columns) and replaces the stored rows.
func (s *Store) LoadCSV(ctx context.Context, r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return 0, fmt.Errorf("instruments: read master header: %w", err)
	}
	symCol, tokCol, instCol := -1, -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case "Symbol":
			symCol = i
		case "Token":
			tokCol = i
		case "Instrument":
			instCol = i
		}
	}
	if symCol < 0 || tokCol < 0 || instCol < 0 {
		return 0, fmt.Errorf("instruments: master header missing Symbol/Token/Instrument")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM instruments"); err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO instruments (symbol, instrument, token) VALUES (?, ?, ?)")
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	count := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Skip malformed lines, the master occasionally has them. Any
			// other error is the underlying stream failing and repeats on
			// every read, so bail out instead of spinning.
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				continue
			}
			return 0, fmt.Errorf("instruments: read master: %w", err)
		}
		if len(rec) <= symCol || len(rec) <= tokCol || len(rec) <= instCol {
			continue
		}
		token, err := strconv.ParseUint(strings.TrimSpace(rec[tokCol]), 10, 32)
		if err != nil {
			continue
		}
		symbol := strings.ToUpper(strings.TrimSpace(rec[symCol]))
		instrument := strings.TrimSpace(rec[instCol])
		if _, err := stmt.ExecContext(ctx, symbol, instrument, token); err != nil {
			return 0, err
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// Token resolves an equity trading symbol to its instrument token.
func (s *Store) Token(symbol string) (uint32, error) {
	var token uint32
	err := s.db.QueryRow(
		"SELECT token FROM instruments WHERE symbol = ? AND instrument = 'EQ'",
		strings.ToUpper(symbol)).Scan(&token)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("instruments: no EQ token for symbol %s", symbol)
	}
	if err != nil {
		return 0, err
	}
	return token, nil
}
