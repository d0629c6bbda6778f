package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticGetReturnsFixedBearer(t *testing.T) {
	s := NewStatic("tok-abc")

	got, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", got)
}

func genKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestSignedGetExchangesAndCaches(t *testing.T) {
	var exchangeCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchangeCalls++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.FormValue("grant_type"))
		assert.NotEmpty(t, r.FormValue("assertion"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(exchangeResponse{
			AccessToken: "scoped-token-1",
			ExpiresIn:   3600,
		})
	}))
	defer srv.Close()

	src, err := NewSigned("ACME", "BOT", "INGEST_ROLE", srv.URL, genKey(t), srv.Client())
	require.NoError(t, err)

	got, err := src.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "scoped-token-1", got)

	got2, err := src.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "scoped-token-1", got2)
	assert.Equal(t, 1, exchangeCalls, "second call should reuse the cached scoped token")
}

func TestSignedGetRefreshesNearExpiry(t *testing.T) {
	var exchangeCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchangeCalls++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(exchangeResponse{
			AccessToken: "scoped-token",
			// within refreshMargin immediately, forcing a refresh on next Get.
			ExpiresIn: 60,
		})
	}))
	defer srv.Close()

	src, err := NewSigned("ACME", "BOT", "INGEST_ROLE", srv.URL, genKey(t), srv.Client())
	require.NoError(t, err)

	_, err = src.Get(context.Background())
	require.NoError(t, err)
	_, err = src.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, exchangeCalls)
}

func TestSignedExchangeRejectsNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	src, err := NewSigned("ACME", "BOT", "INGEST_ROLE", srv.URL, genKey(t), srv.Client())
	require.NoError(t, err)

	_, err = src.Get(context.Background())
	require.Error(t, err)
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestPublicKeyFingerprintIsStableAndPrefixed(t *testing.T) {
	key := genKey(t)
	fp1, err := publicKeyFingerprint(&key.PublicKey)
	require.NoError(t, err)
	fp2, err := publicKeyFingerprint(&key.PublicKey)
	require.NoError(t, err)

	assert.Equal(t, fp1, fp2)
	assert.Contains(t, fp1, "SHA256:")
}

func TestCurrentSignedTokenIsCachedUntilNearExpiry(t *testing.T) {
	src, err := NewSigned("ACME", "BOT", "INGEST_ROLE", "http://unused.invalid", genKey(t), &http.Client{Timeout: time.Second})
	require.NoError(t, err)

	src.mu.Lock()
	t1, err := src.currentSignedTokenLocked()
	require.NoError(t, err)
	t2, err := src.currentSignedTokenLocked()
	require.NoError(t, err)
	src.mu.Unlock()

	assert.Equal(t, t1, t2)
}
