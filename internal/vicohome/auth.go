package vicohome

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jpaulin/freebird-go/internal/conf"
	"github.com/jpaulin/freebird-go/internal/errors"
)

const (
	// TokenTTL is a conservative client-side token lifetime, shorter than
	// the server's 24h expiry to avoid races at the boundary.
	TokenTTL = 23 * time.Hour

	// loginTimeout bounds the login HTTP call.
	loginTimeout = 15 * time.Second
)

// authErrorCodes is the set of structured VicoHome result codes that denote
// an authentication failure.
var authErrorCodes = map[int]bool{
	-1024: true,
	-1025: true,
	-1026: true,
	-1027: true,
}

// TokenManager owns the single bearer credential used for all VicoHome API
// calls. It persists the token across process restarts and refreshes it
// lazily on Token(); there is no background refresh. Safe for concurrent use.
type TokenManager struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time

	settings   *conf.Settings
	httpClient *http.Client
	cachePath  string
}

// cachedToken is the on-disk representation of a credential.
type cachedToken struct {
	Token     string  `json:"token"`
	ExpiresAt float64 `json:"expires_at"`
}

// NewTokenManager creates a TokenManager and loads any cached credential
// from disk. A missing or unreadable cache file is not an error.
func NewTokenManager(settings *conf.Settings) *TokenManager {
	tm := &TokenManager{
		settings:   settings,
		httpClient: &http.Client{Timeout: loginTimeout},
		cachePath:  settings.AuthCachePath(),
	}
	tm.loadCachedToken()
	return tm
}

// Token returns a non-expired bearer token, performing a login if none is
// cached or the cached one has expired.
func (tm *TokenManager) Token(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.token != "" && time.Now().Before(tm.expiresAt) {
		return tm.token, nil
	}
	return tm.login(ctx)
}

// Invalidate discards the current token unconditionally, in memory and on
// disk. The next Token() call forces a fresh login.
func (tm *TokenManager) Invalidate() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.token = ""
	tm.expiresAt = time.Time{}
	if err := os.Remove(tm.cachePath); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove cached token", "path", tm.cachePath, "error", err)
	}
}

// login performs the account login call and caches the resulting token.
// Caller must hold tm.mu.
func (tm *TokenManager) login(ctx context.Context) (string, error) {
	logger.Info("logging in to VicoHome API")

	payload, err := json.Marshal(map[string]any{
		"email":     tm.settings.VicoHome.Email,
		"password":  tm.settings.VicoHome.Password,
		"loginType": 0,
	})
	if err != nil {
		return "", errors.New(err).
			Component("vicohome").
			Category(errors.CategoryAuth).
			Build()
	}

	url := tm.settings.APIBase() + "/account/login"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", errors.New(err).
			Component("vicohome").
			Category(errors.CategoryAuth).
			Build()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := tm.httpClient.Do(req)
	if err != nil {
		return "", errors.Newf("VicoHome login request failed: %w", err).
			Component("vicohome").
			Category(errors.CategoryAuth).
			Build()
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.Newf("VicoHome login failed with status %d", resp.StatusCode).
			Component("vicohome").
			Category(errors.CategoryAuth).
			Context("status_code", resp.StatusCode).
			Build()
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Newf("reading login response: %w", err).
			Component("vicohome").
			Category(errors.CategoryAuth).
			Build()
	}

	var loginResp struct {
		Result *int   `json:"result"`
		Code   *int   `json:"code"`
		Msg    string `json:"msg"`
		Data   struct {
			Token struct {
				Token string `json:"token"`
			} `json:"token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &loginResp); err != nil {
		return "", errors.Newf("decoding login response: %w", err).
			Component("vicohome").
			Category(errors.CategoryAuth).
			Build()
	}

	result := -1
	switch {
	case loginResp.Result != nil:
		result = *loginResp.Result
	case loginResp.Code != nil:
		result = *loginResp.Code
	}
	if result != 0 {
		return "", errors.Newf("VicoHome login failed: %s", loginResp.Msg).
			Component("vicohome").
			Category(errors.CategoryAuth).
			Context("result_code", result).
			Build()
	}
	if loginResp.Data.Token.Token == "" {
		return "", errors.Newf("VicoHome login response missing token").
			Component("vicohome").
			Category(errors.CategoryAuth).
			Build()
	}

	tm.token = loginResp.Data.Token.Token
	tm.expiresAt = time.Now().Add(TokenTTL)
	tm.saveCachedToken()

	logger.Info("login successful, token cached", "expires_at", tm.expiresAt)
	return tm.token, nil
}

// loadCachedToken restores a previously persisted credential so a process
// restart does not force an unnecessary login.
func (tm *TokenManager) loadCachedToken() {
	data, err := os.ReadFile(tm.cachePath)
	if err != nil {
		return
	}
	var cached cachedToken
	if err := json.Unmarshal(data, &cached); err != nil {
		logger.Warn("invalid cached token, will re-login", "path", tm.cachePath)
		return
	}
	expiresAt := time.Unix(int64(cached.ExpiresAt), 0)
	if cached.Token == "" || !time.Now().Before(expiresAt) {
		return
	}
	tm.token = cached.Token
	tm.expiresAt = expiresAt
	logger.Info("loaded cached token",
		"expires_in_min", int(time.Until(expiresAt).Minutes()))
}

// saveCachedToken persists the credential to a restricted-permission file.
// Caller must hold tm.mu.
func (tm *TokenManager) saveCachedToken() {
	if err := os.MkdirAll(filepath.Dir(tm.cachePath), 0o700); err != nil {
		logger.Warn("failed to create auth cache directory", "error", err)
		return
	}
	data, err := json.Marshal(cachedToken{
		Token:     tm.token,
		ExpiresAt: float64(tm.expiresAt.Unix()),
	})
	if err != nil {
		logger.Warn("failed to encode token cache", "error", err)
		return
	}
	if err := os.WriteFile(tm.cachePath, data, 0o600); err != nil {
		logger.Warn("failed to write token cache", "path", tm.cachePath, "error", err)
	}
}

// isAuthFailure reports whether an API response body signals an
// authentication failure. The remote service is ambiguous about expired
// sessions: sometimes a structured error code, sometimes an HTML redirect
// page, sometimes only an error message mentioning the token. All are
// treated as equivalent.
func isAuthFailure(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '<' {
		return true
	}

	var probe struct {
		Result *int   `json:"result"`
		Code   *int   `json:"code"`
		Msg    string `json:"msg"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}

	code := probe.Result
	if code == nil {
		code = probe.Code
	}
	if code != nil && authErrorCodes[*code] {
		return true
	}

	msg := strings.ToLower(probe.Msg)
	for _, kw := range []string{"token", "auth", "login"} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
