// Package auth verifies the identity tokens presented by signed-in users
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// GoogleCertsURL publishes the x509 certificates that sign Firebase ID tokens
const GoogleCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

const (
	issuerPrefix             = "https://securetoken.google.com/"
	defaultCertMaxAge        = time.Hour
	defaultMinRefreshBackoff = time.Minute
)

var (
	// ErrMissingToken is returned when a request carries no bearer token
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken is returned when a token fails verification
	ErrInvalidToken = errors.New("invalid identity token")
)

// Verifier resolves an identity token to a user id
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Config holds configuration for FirebaseVerifier
type Config struct {
	// ProjectID is the Firebase project id (required). It is both the
	// expected audience and the suffix of the expected issuer.
	ProjectID string

	// CertsURL overrides GoogleCertsURL
	CertsURL string

	// HTTPClient fetches certificates. Default: client with a 10s timeout
	HTTPClient *http.Client

	// Leeway tolerates clock skew on exp, nbf and iat. Default: 0
	Leeway time.Duration

	// Now is the clock used for expiry checks. Default: time.Now
	Now func() time.Time

	// MinRefreshInterval limits certificate refetches caused by tokens with an
	// unknown key id while the cached set is still fresh. Default: 1 minute
	MinRefreshInterval time.Duration
}

// FirebaseVerifier verifies RS256 Firebase ID tokens against Google's rotating certificates
type FirebaseVerifier struct {
	projectID string
	certsURL  string
	client    *http.Client
	leeway    time.Duration
	now       func() time.Time
	minRetry  time.Duration

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	expiresAt   time.Time
	lastRefresh time.Time
}

// NewFirebaseVerifier creates a verifier for one Firebase project
func NewFirebaseVerifier(cfg Config) (*FirebaseVerifier, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, fmt.Errorf("firebase project id is required")
	}
	if cfg.CertsURL == "" {
		cfg.CertsURL = GoogleCertsURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MinRefreshInterval <= 0 {
		cfg.MinRefreshInterval = defaultMinRefreshBackoff
	}

	return &FirebaseVerifier{
		projectID: cfg.ProjectID,
		certsURL:  cfg.CertsURL,
		client:    cfg.HTTPClient,
		leeway:    cfg.Leeway,
		now:       cfg.Now,
		minRetry:  cfg.MinRefreshInterval,
	}, nil
}

// Verify checks the token signature, audience, issuer and expiry and returns
// the subject as the user id.
func (v *FirebaseVerifier) Verify(ctx context.Context, raw string) (string, error) {
	if raw == "" {
		return "", ErrMissingToken
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no key id")
		}
		return v.publicKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.projectID),
		jwt.WithIssuer(issuerPrefix+v.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// publicKey returns the certificate key for kid, refreshing the set when it is
// stale or does not know kid (Google rotates keys ahead of the cache expiry).
// Unknown key ids refetch a fresh set at most once per minRetry.
func (v *FirebaseVerifier) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	now := v.now()
	v.mu.Lock()
	key, ok := v.keys[kid]
	fresh := now.Before(v.expiresAt)
	if ok && fresh {
		v.mu.Unlock()
		return key, nil
	}
	if fresh && now.Sub(v.lastRefresh) < v.minRetry {
		v.mu.Unlock()
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	v.lastRefresh = now
	v.mu.Unlock()

	if err := v.refresh(ctx); err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	key, ok = v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return key, nil
}

func (v *FirebaseVerifier) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.certsURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to build certificate request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch certificates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to fetch certificates: status %d", resp.StatusCode)
	}

	var certs map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&certs); err != nil {
		return fmt.Errorf("failed to decode certificates: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(certs))
	for kid, cert := range certs {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cert))
		if err != nil {
			return fmt.Errorf("failed to parse certificate %s: %w", kid, err)
		}
		keys[kid] = key
	}

	v.mu.Lock()
	v.keys = keys
	v.expiresAt = v.now().Add(maxAge(resp.Header.Get("Cache-Control")))
	v.mu.Unlock()
	return nil
}

// maxAge reads max-age from a Cache-Control header
func maxAge(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		directive = strings.TrimSpace(directive)
		if value, ok := strings.CutPrefix(directive, "max-age="); ok {
			if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}
	return defaultCertMaxAge
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMissingToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// StaticVerifier maps fixed tokens to user ids. It is meant for tests and
// local development only.
type StaticVerifier map[string]string

// Verify implements Verifier
func (s StaticVerifier) Verify(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	userID, ok := s[token]
	if !ok {
		return "", ErrInvalidToken
	}
	return userID, nil
}
