// Package token implements two credential sources: a fixed opaque bearer,
// and a signed short-lived token that is exchanged for a scoped session
// token.
package token

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
)

// refreshMargin is how far ahead of expiry a credential is proactively
// refreshed, for both the locally-minted signed token and the scoped
// session token exchanged for it.
const refreshMargin = 5 * time.Minute

// signedTokenTTL is the lifetime of a freshly minted signed token.
const signedTokenTTL = 59 * time.Minute

// AuthError indicates a credential was rejected or could not be minted or
// exchanged.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string { return "token: " + e.Op + ": " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// Source returns a currently-valid bearer credential. Implementations must
// be safe for concurrent use.
type Source interface {
	Get(ctx context.Context) (string, error)
}

// Static is a fixed opaque bearer that never expires client-side.
type Static struct {
	bearer string
}

// NewStatic wraps a fixed personal-access-token-style bearer string.
func NewStatic(bearer string) *Static {
	return &Static{bearer: bearer}
}

func (s *Static) Get(ctx context.Context) (string, error) {
	return s.bearer, nil
}

// Signed mints RS256 short-lived tokens from a local private key and
// exchanges them for scoped session tokens
type Signed struct {
	Account string
	User    string
	Role    string
	// OAuthURL is the account's token-exchange endpoint base.
	OAuthURL string

	HTTPClient *http.Client

	privateKey  *rsa.PrivateKey
	fingerprint string

	mu              sync.Mutex
	signedToken     string
	signedExpiresAt time.Time

	scoped *lru.Cache[string, scopedCredential]
}

type scopedCredential struct {
	token     string
	expiresAt time.Time
}

// NewSigned builds a Signed token source from a parsed PKCS#8 RSA private
// key. The public-key fingerprint used in the `iss` claim is computed once.
func NewSigned(account, user, role, oauthURL string, key *rsa.PrivateKey, httpClient *http.Client) (*Signed, error) {
	fp, err := publicKeyFingerprint(&key.PublicKey)
	if err != nil {
		return nil, &AuthError{Op: "fingerprint", Err: err}
	}
	cache, err := lru.New[string, scopedCredential](8)
	if err != nil {
		return nil, &AuthError{Op: "new scoped token cache", Err: err}
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Signed{
		Account:     account,
		User:        user,
		Role:        role,
		OAuthURL:    oauthURL,
		HTTPClient:  httpClient,
		privateKey:  key,
		fingerprint: fp,
		scoped:      cache,
	}, nil
}

// Get returns a currently-valid scoped session token. If the cached scoped
// token is missing or within refreshMargin of expiry, it exchanges the
// signed token for a new one, minting a fresh signed token first only when
// the cached signed token is missing or itself within refreshMargin of
// expiry. Concurrent callers share a single refresh via the held lock.
func (s *Signed) Get(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cred, ok := s.scoped.Get(s.Role); ok && time.Until(cred.expiresAt) > refreshMargin {
		return cred.token, nil
	}

	signed, err := s.currentSignedTokenLocked()
	if err != nil {
		return "", err
	}

	scoped, expiresAt, err := s.exchangeLocked(ctx, signed)
	if err != nil {
		return "", err
	}

	s.scoped.Add(s.Role, scopedCredential{token: scoped, expiresAt: expiresAt})
	log.WithFields(log.Fields{
		"component": "token.Signed",
		"role":      s.Role,
	}).Info("minted new scoped session token")
	return scoped, nil
}

// Invalidate drops the cached scoped session token for Role, forcing the
// next Get to mint and exchange a fresh one. Used by callers that observe
// a 401 and need to force a refresh's auth class.
func (s *Signed) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scoped.Remove(s.Role)
	s.signedToken = ""
}

// currentSignedTokenLocked returns the cached signed token, minting a new
// one if it is missing or within refreshMargin of expiry. Caller holds s.mu.
func (s *Signed) currentSignedTokenLocked() (string, error) {
	if s.signedToken != "" && time.Until(s.signedExpiresAt) > refreshMargin {
		return s.signedToken, nil
	}

	now := time.Now()
	expiresAt := now.Add(signedTokenTTL)

	iss := fmt.Sprintf("%s.%s.%s", strings.ToUpper(s.Account), strings.ToUpper(s.User), s.fingerprint)
	sub := fmt.Sprintf("%s.%s", strings.ToUpper(s.Account), strings.ToUpper(s.User))

	claims := jwt.MapClaims{
		"iss": iss,
		"sub": sub,
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := tok.SignedString(s.privateKey)
	if err != nil {
		return "", &AuthError{Op: "sign", Err: err}
	}

	s.signedToken = signed
	s.signedExpiresAt = expiresAt
	return signed, nil
}

// exchangeLocked trades a signed token for a scoped session token via the
// account's OAuth endpoint.
func (s *Signed) exchangeLocked(ctx context.Context, signedToken string) (string, time.Time, error) {
	scope := fmt.Sprintf("SESSION:ROLE-ANY:%s %s.snowflakecomputing.com", s.Role, strings.ToLower(s.Account))

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("scope", scope)
	form.Set("assertion", signedToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.OAuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, &AuthError{Op: "build exchange request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return "", time.Time{}, &AuthError{Op: "exchange", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", time.Time{}, &AuthError{Op: "exchange", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, expiresIn, err := decodeExchangeResponse(resp)
	if err != nil {
		return "", time.Time{}, &AuthError{Op: "decode exchange response", Err: err}
	}

	expiresAt := time.Now().Add(time.Duration(expiresIn) * time.Second)
	return body, expiresAt, nil
}

func publicKeyFingerprint(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return "SHA256:" + base64.StdEncoding.EncodeToString(sum[:]), nil
}
