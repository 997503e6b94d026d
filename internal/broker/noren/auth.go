package noren

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Sha256 returns the hex digest the Noren login handshake expects for
// passwords and app keys.
func Sha256(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// AppKey builds the hashed app key from the user id and raw api key.
func AppKey(userID, apiKey string) string {
	return Sha256(userID + "|" + apiKey)
}

// QuickAuth performs the single-step Noren login and returns the session
// token. The concrete broker packages build the request (hashing, TOTP).
func QuickAuth(ctx context.Context, hc *http.Client, baseURL string, req QuickAuthRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	payload := "jData=" + string(body)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		baseURL+"/QuickAuth", strings.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login status %d: %s", resp.StatusCode, truncate(raw))
	}

	var out quickAuthResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("login response malformed: %w", err)
	}
	if out.Stat != "Ok" {
		return "", fmt.Errorf("login rejected: %s", out.ErrMsg)
	}
	if out.Token == "" {
		return "", fmt.Errorf("login returned empty session token")
	}
	return out.Token, nil
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// NewHTTPClient is the client every Noren-family broker uses for REST.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}
