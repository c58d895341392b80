package token_test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briefloop/ingestcore/internal/crypto"
	"github.com/briefloop/ingestcore/internal/lock"
	"github.com/briefloop/ingestcore/internal/storage"
	"github.com/briefloop/ingestcore/internal/token"
)

type fakeStore struct {
	mu    sync.Mutex
	conns map[string]*storage.ProviderConnection
}

func newFakeStore(conn *storage.ProviderConnection) *fakeStore {
	return &fakeStore{conns: map[string]*storage.ProviderConnection{conn.UserID + ":" + conn.Provider: conn}}
}

func (f *fakeStore) GetActiveConnection(ctx context.Context, userID, provider string) (*storage.ProviderConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn, ok := f.conns[userID+":"+provider]
	if !ok {
		return nil, storage.ErrConnectionNotFound
	}
	clone := *conn
	return &clone, nil
}

func (f *fakeStore) UpdateConnection(ctx context.Context, conn *storage.ProviderConnection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *conn
	f.conns[conn.UserID+":"+conn.Provider] = &clone
	return nil
}

func testSealer(t *testing.T) *crypto.Sealer {
	t.Helper()
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	sealer, err := crypto.NewSealer(key)
	require.NoError(t, err)
	return sealer
}

func newTestConnection(t *testing.T, sealer *crypto.Sealer, expiresAt time.Time) *storage.ProviderConnection {
	t.Helper()
	access, err := sealer.Seal("old-access-token")
	require.NoError(t, err)
	refresh, err := sealer.Seal("old-refresh-token")
	require.NoError(t, err)

	return &storage.ProviderConnection{
		ID:                    "conn-1",
		UserID:                "user-1",
		Provider:              "youtube",
		EncryptedAccessToken:  access,
		EncryptedRefreshToken: refresh,
		TokenExpiresAt:        expiresAt,
		Status:                storage.ConnectionActive,
	}
}

func TestGetValidAccessTokenReturnsCachedTokenWhenFresh(t *testing.T) {
	sealer := testSealer(t)
	conn := newTestConnection(t, sealer, time.Now().Add(time.Hour))
	store := newFakeStore(conn)
	mgr := token.NewManager(store, lock.NewService(storage.NewMemoryKV()), sealer, nil)

	access, err := mgr.GetValidAccessToken(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "old-access-token", access)
}

func TestGetValidAccessTokenRefreshesWhenNearExpiry(t *testing.T) {
	sealer := testSealer(t)
	conn := newTestConnection(t, sealer, time.Now().Add(2*time.Minute))
	store := newFakeStore(conn)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.FormValue("grant_type"))
		assert.Equal(t, "old-refresh-token", r.FormValue("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"new-access-token","expires_in":3600}`)
	}))
	defer server.Close()

	creds := map[string]token.ProviderCredentials{
		"youtube": {ClientID: "cid", TokenEndpoint: server.URL},
	}
	mgr := token.NewManager(store, lock.NewService(storage.NewMemoryKV()), sealer, creds)

	access, err := mgr.GetValidAccessToken(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "new-access-token", access)

	updated, err := store.GetActiveConnection(context.Background(), "user-1", "youtube")
	require.NoError(t, err)
	assert.Equal(t, storage.ConnectionActive, updated.Status)
	assert.True(t, updated.TokenExpiresAt.After(time.Now().Add(30*time.Minute)))
}

func TestGetValidAccessTokenRotatesRefreshTokenWhenProvided(t *testing.T) {
	sealer := testSealer(t)
	conn := newTestConnection(t, sealer, time.Now().Add(time.Minute))
	store := newFakeStore(conn)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"new-access-token","expires_in":3600,"refresh_token":"new-refresh-token"}`)
	}))
	defer server.Close()

	creds := map[string]token.ProviderCredentials{
		"youtube": {ClientID: "cid", TokenEndpoint: server.URL},
	}
	mgr := token.NewManager(store, lock.NewService(storage.NewMemoryKV()), sealer, creds)

	_, err := mgr.GetValidAccessToken(context.Background(), conn)
	require.NoError(t, err)

	updated, err := store.GetActiveConnection(context.Background(), "user-1", "youtube")
	require.NoError(t, err)
	plaintext, err := sealer.Open(updated.EncryptedRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "new-refresh-token", plaintext)
}

func TestGetValidAccessTokenMarksExpiredOnPermanentFailure(t *testing.T) {
	sealer := testSealer(t)
	conn := newTestConnection(t, sealer, time.Now().Add(time.Minute))
	store := newFakeStore(conn)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Token has been expired or revoked"}`)
	}))
	defer server.Close()

	creds := map[string]token.ProviderCredentials{
		"youtube": {ClientID: "cid", TokenEndpoint: server.URL},
	}
	mgr := token.NewManager(store, lock.NewService(storage.NewMemoryKV()), sealer, creds)

	_, err := mgr.GetValidAccessToken(context.Background(), conn)
	assert.ErrorIs(t, err, token.ErrRefreshFailedPermanent)

	updated, err := store.GetActiveConnection(context.Background(), "user-1", "youtube")
	require.NoError(t, err)
	assert.Equal(t, storage.ConnectionExpired, updated.Status)
}

func TestGetValidAccessTokenTransientFailureDoesNotMarkExpired(t *testing.T) {
	sealer := testSealer(t)
	conn := newTestConnection(t, sealer, time.Now().Add(time.Minute))
	store := newFakeStore(conn)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `server error`)
	}))
	defer server.Close()

	creds := map[string]token.ProviderCredentials{
		"youtube": {ClientID: "cid", TokenEndpoint: server.URL},
	}
	mgr := token.NewManager(store, lock.NewService(storage.NewMemoryKV()), sealer, creds)

	_, err := mgr.GetValidAccessToken(context.Background(), conn)
	assert.ErrorIs(t, err, token.ErrRefreshFailedTransient)

	updated, err := store.GetActiveConnection(context.Background(), "user-1", "youtube")
	require.NoError(t, err)
	assert.Equal(t, storage.ConnectionActive, updated.Status, "a transient failure must not mark the connection expired")
}

func TestGetValidAccessTokenRaceReturnsRefreshedTokenOrInProgress(t *testing.T) {
	sealer := testSealer(t)
	conn := newTestConnection(t, sealer, time.Now().Add(-time.Minute))
	store := newFakeStore(conn)

	kv := storage.NewMemoryKV()
	locks := lock.NewService(kv)

	held, err := locks.TryAcquire(context.Background(), storage.TokenRefreshLockKey(conn.ID), time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	mgr := token.NewManager(store, locks, sealer, nil)

	_, err = mgr.GetValidAccessToken(context.Background(), conn)
	assert.True(t, errors.Is(err, token.ErrRefreshInProgress), "a held lock with a still-expired connection must surface REFRESH_IN_PROGRESS")
}
