package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"

	"RelayCore/logger"
	"RelayCore/tools/errs"
)

// Claims is the verified identity handed to the resolver.
type Claims struct {
	Subject   string
	Email     string
	Name      string
	Picture   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type idTokenClaims struct {
	jwt.RegisteredClaims
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// VerifierConfig names the identity provider this gateway trusts.
type VerifierConfig struct {
	IssuerURL string
	Audience  string
	// JWKSURL overrides the derived <issuer>/.well-known/jwks.json endpoint.
	JWKSURL string
}

// Verifier checks bearer tokens against the provider's published key set.
// Key sets are fetched lazily and cached per issuer; an unknown key id
// triggers at most one rate-limited refetch, which covers key rotation.
type Verifier struct {
	conf VerifierConfig

	mu   sync.Mutex
	jwks map[string]*keyfunc.JWKS // issuer -> cached key set

	// keyfuncFor is swappable so tests can verify against a fixed key.
	keyfuncFor func(issuer string) (jwt.Keyfunc, error)
}

func NewVerifier(conf VerifierConfig) *Verifier {
	v := &Verifier{
		conf: conf,
		jwks: make(map[string]*keyfunc.JWKS),
	}
	v.keyfuncFor = v.cachedKeyfunc
	return v
}

// NewVerifierWithKeyfunc wires a fixed keyfunc; used by tests.
func NewVerifierWithKeyfunc(conf VerifierConfig, kf jwt.Keyfunc) *Verifier {
	v := NewVerifier(conf)
	v.keyfuncFor = func(string) (jwt.Keyfunc, error) { return kf, nil }
	return v
}

func (v *Verifier) jwksURL(issuer string) string {
	if v.conf.JWKSURL != "" {
		return v.conf.JWKSURL
	}
	return strings.TrimSuffix(issuer, "/") + "/.well-known/jwks.json"
}

func (v *Verifier) cachedKeyfunc(issuer string) (jwt.Keyfunc, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if j, ok := v.jwks[issuer]; ok {
		return j.Keyfunc, nil
	}
	j, err := keyfunc.Get(v.jwksURL(issuer), keyfunc.Options{
		Ctx:               context.Background(),
		RefreshInterval:   5 * time.Minute,
		RefreshRateLimit:  time.Minute,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.Errorf("[auth] jwks refresh: %v", err)
		},
	})
	if err != nil {
		return nil, err
	}
	v.jwks[issuer] = j
	return j.Keyfunc, nil
}

// Verify parses and validates signature, issuer, audience and expiry.
// Returns ErrExpiredToken or ErrInvalidToken; never degrades to anonymous.
func (v *Verifier) Verify(_ context.Context, token string) (*Claims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errs.ErrAuthRequired
	}

	kf, err := v.keyfuncFor(v.conf.IssuerURL)
	if err != nil {
		return nil, errs.ErrDependencyUnavailable.WrapMsg("jwks fetch: " + err.Error())
	}

	claims := &idTokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, kf,
		jwt.WithIssuer(v.conf.IssuerURL),
		jwt.WithAudience(v.conf.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384"}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errs.ErrExpiredToken.WithDetail(err.Error())
		}
		return nil, errs.ErrInvalidToken.WithDetail(err.Error())
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, errs.ErrInvalidToken
	}

	out := &Claims{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Picture: claims.Picture,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// Close releases background JWKS refresh goroutines.
func (v *Verifier) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, j := range v.jwks {
		j.EndBackground()
	}
	v.jwks = make(map[string]*keyfunc.JWKS)
}
