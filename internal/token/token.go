// Package token produces valid OAuth2 access tokens for provider
// connections, refreshing under a distributed lock and persisting rotated
// refresh tokens. Grounded in the teacher's starlingx Keystone AuthClient
// (expiry-buffer check, refresh-under-lock, re-read-after-contention), with
// the oauth2 wire shape (spec.md §6) using golang.org/x/oauth2 token types
// rather than its TokenSource, since the classification rules below aren't
// expressible through that interface.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/briefloop/ingestcore/internal/crypto"
	"github.com/briefloop/ingestcore/internal/lock"
	"github.com/briefloop/ingestcore/internal/storage"
)

// Buffer is the time-to-expiry below which GetValidAccessToken refreshes a
// token (spec.md I5).
const Buffer = 5 * time.Minute

const refreshLockTTL = 60 * time.Second

// contentionRetryDelay is how long GetValidAccessToken waits before
// re-reading a connection when another worker holds the refresh lock.
var contentionRetryDelay = 2 * time.Second

// ErrRefreshInProgress is raised when the refresh lock is held by another
// worker and the connection still isn't valid after the contention wait.
var ErrRefreshInProgress = errors.New("token refresh in progress")

// ErrRefreshFailedTransient wraps a non-permanent refresh failure.
var ErrRefreshFailedTransient = errors.New("token refresh failed (transient)")

// ErrRefreshFailedPermanent wraps a permanent refresh failure; the owning
// connection has already been marked EXPIRED.
var ErrRefreshFailedPermanent = errors.New("token refresh failed (permanent)")

// permanentOAuthErrors are the OAuth error codes that mean the refresh token
// itself is no longer usable (spec.md §4.4 step 3).
var permanentOAuthErrors = map[string]bool{
	"invalid_grant":       true,
	"unauthorized_client": true,
	"invalid_client":      true,
}

// ProviderCredentials is the client_id/client_secret/token_endpoint needed
// to refresh one provider's tokens (internal/config.ProviderConfig).
type ProviderCredentials struct {
	ClientID      string
	ClientSecret  string
	TokenEndpoint string
}

// ConnectionStore is the subset of storage.RelationalStore the token
// manager needs.
type ConnectionStore interface {
	GetActiveConnection(ctx context.Context, userID, provider string) (*storage.ProviderConnection, error)
	UpdateConnection(ctx context.Context, conn *storage.ProviderConnection) error
}

// Manager produces valid access tokens for ProviderConnection rows.
type Manager struct {
	store       ConnectionStore
	locks       *lock.Service
	sealer      *crypto.Sealer
	credentials map[string]ProviderCredentials
	httpClient  *http.Client
}

// NewManager builds a Manager. credentials is keyed by provider tag.
func NewManager(store ConnectionStore, locks *lock.Service, sealer *crypto.Sealer, credentials map[string]ProviderCredentials) *Manager {
	return &Manager{
		store:       store,
		locks:       locks,
		sealer:      sealer,
		credentials: credentials,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// refreshResponse is the JSON body a provider token endpoint returns.
type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

// GetValidAccessToken returns a decrypted access token for conn, refreshing
// under a per-connection lock when it expires within Buffer (spec.md §4.4).
// When another worker holds the lock, it waits contentionRetryDelay, re-reads
// the connection, and returns that token if it has not yet expired, else
// ErrRefreshInProgress.
func (m *Manager) GetValidAccessToken(ctx context.Context, conn *storage.ProviderConnection) (string, error) {
	if time.Until(conn.TokenExpiresAt) > Buffer {
		return m.sealer.Open(conn.EncryptedAccessToken)
	}

	lockKey := storage.TokenRefreshLockKey(conn.ID)
	acquired, err := m.locks.TryAcquire(ctx, lockKey, refreshLockTTL)
	if err != nil {
		return "", fmt.Errorf("acquire refresh lock: %w", err)
	}

	if !acquired {
		time.Sleep(contentionRetryDelay)
		fresh, err := m.store.GetActiveConnection(ctx, conn.UserID, conn.Provider)
		if err != nil {
			return "", fmt.Errorf("re-read connection during contention: %w", err)
		}
		if time.Until(fresh.TokenExpiresAt) > 0 {
			return m.sealer.Open(fresh.EncryptedAccessToken)
		}
		return "", ErrRefreshInProgress
	}

	defer func() {
		_ = m.locks.Release(ctx, lockKey)
	}()

	return m.refresh(ctx, conn)
}

func (m *Manager) refresh(ctx context.Context, conn *storage.ProviderConnection) (string, error) {
	creds, ok := m.credentials[conn.Provider]
	if !ok {
		return "", fmt.Errorf("no oauth credentials configured for provider %s", conn.Provider)
	}

	refreshToken, err := m.sealer.Open(conn.EncryptedRefreshToken)
	if err != nil {
		return "", fmt.Errorf("decrypt refresh token: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", creds.ClientID)
	if creds.ClientSecret != "" {
		form.Set("client_secret", creds.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailedTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrRefreshFailedTransient, err)
	}

	if resp.StatusCode != http.StatusOK {
		return m.handleRefreshError(ctx, conn, resp.StatusCode, body)
	}

	var parsed refreshResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrRefreshFailedTransient, err)
	}

	return m.persistRefresh(ctx, conn, &parsed)
}

// handleRefreshError classifies a non-200 refresh response as permanent or
// transient per spec.md §4.4 step 3.
func (m *Manager) handleRefreshError(ctx context.Context, conn *storage.ProviderConnection, status int, body []byte) (string, error) {
	var parsed refreshResponse
	_ = json.Unmarshal(body, &parsed)

	bodyText := string(body)
	permanent := (status == http.StatusBadRequest || status == http.StatusUnauthorized) &&
		(permanentOAuthErrors[parsed.Error] || strings.Contains(bodyText, "Token has been expired or revoked"))

	if !permanent {
		return "", fmt.Errorf("%w: status %d: %s", ErrRefreshFailedTransient, status, bodyText)
	}

	conn.Status = storage.ConnectionExpired
	conn.PushRotation("refresh_failed_permanent", time.Now())
	if err := m.store.UpdateConnection(ctx, conn); err != nil {
		return "", fmt.Errorf("mark connection expired: %w", err)
	}

	return "", fmt.Errorf("%w: %s", ErrRefreshFailedPermanent, parsed.Error)
}

// persistRefresh stores the newly issued token and returns the access token.
func (m *Manager) persistRefresh(ctx context.Context, conn *storage.ProviderConnection, parsed *refreshResponse) (string, error) {
	encryptedAccess, err := m.sealer.Seal(parsed.AccessToken)
	if err != nil {
		return "", fmt.Errorf("seal access token: %w", err)
	}

	now := time.Now()
	conn.EncryptedAccessToken = encryptedAccess
	conn.TokenExpiresAt = now.Add(time.Duration(parsed.ExpiresIn) * time.Second)
	conn.Status = storage.ConnectionActive
	conn.LastRefreshedAt = &now
	conn.PushRotation("refresh", now)

	if parsed.RefreshToken != "" {
		encryptedRefresh, err := m.sealer.Seal(parsed.RefreshToken)
		if err != nil {
			return "", fmt.Errorf("seal refresh token: %w", err)
		}
		conn.EncryptedRefreshToken = encryptedRefresh
	}

	if err := m.store.UpdateConnection(ctx, conn); err != nil {
		return "", fmt.Errorf("persist refreshed connection: %w", err)
	}

	return parsed.AccessToken, nil
}

// ToOAuth2Token is a convenience conversion for callers (e.g. provider SDKs)
// that want the stdlib oauth2.Token wire shape rather than a raw string.
func ToOAuth2Token(accessToken string, expiresAt time.Time) *oauth2.Token {
	return &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		Expiry:      expiresAt,
	}
}
