package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/hupe1980/supportmesh/core"
)

// ErrInvalidToken is returned for bearer tokens that fail validation.
var ErrInvalidToken = errors.New("invalid token")

// JWTOptions configure a JWTResolver. Exactly one of Secret or JWKSURL is required.
type JWTOptions struct {
	// Secret verifies HS256 signed tokens.
	Secret string
	// JWKSURL is fetched, cached and refreshed for asymmetric keys.
	JWKSURL string
	// RefreshInterval bounds JWKS refreshes (default 15m).
	RefreshInterval time.Duration
	Issuer          string
	Audience        string
	// Claim carries the customer id; the subject is used when it is absent.
	Claim string
	// Header carries the bearer token (default Authorization).
	Header string
}

// JWTResolver derives identity from a bearer token.
type JWTResolver struct {
	opts  JWTOptions
	cache *jwk.Cache
}

// NewJWTResolver creates a JWT resolver. With a JWKS URL the key set is
// registered with an auto-refreshing cache and fetched once to validate the
// configuration.
func NewJWTResolver(ctx context.Context, optFns ...func(o *JWTOptions)) (*JWTResolver, error) {
	opts := JWTOptions{
		RefreshInterval: 15 * time.Minute,
		Claim:           "customer_id",
		Header:          "Authorization",
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if (opts.Secret == "") == (opts.JWKSURL == "") {
		return nil, fmt.Errorf("jwt resolver: exactly one of secret or jwks url is required")
	}

	r := &JWTResolver{opts: opts}

	if opts.JWKSURL != "" {
		cache := jwk.NewCache(ctx)
		if err := cache.Register(opts.JWKSURL, jwk.WithMinRefreshInterval(opts.RefreshInterval)); err != nil {
			return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
		}

		if _, err := cache.Refresh(ctx, opts.JWKSURL); err != nil {
			return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", opts.JWKSURL, err)
		}

		r.cache = cache
	}

	return r, nil
}

// Resolve implements IdentityResolver. Requests without a bearer token are
// not an error; malformed or invalid tokens are.
func (r *JWTResolver) Resolve(ctx context.Context, req core.TurnRequest) (Identity, bool, error) {
	if req.Headers == nil {
		return Identity{}, false, nil
	}

	raw := strings.TrimSpace(req.Headers.Get(r.opts.Header))
	if raw == "" {
		return Identity{}, false, nil
	}

	tokenString, found := strings.CutPrefix(raw, "Bearer ")
	if !found {
		return Identity{}, false, fmt.Errorf("%w: expected bearer scheme", ErrInvalidToken)
	}

	token, err := r.parse(ctx, strings.TrimSpace(tokenString))
	if err != nil {
		return Identity{}, false, err
	}

	customerID := token.Subject()

	if v, ok := token.Get(r.opts.Claim); ok {
		if s, ok := v.(string); ok && s != "" {
			customerID = s
		}
	}

	if customerID == "" {
		return Identity{}, false, fmt.Errorf("%w: no %s or sub claim", ErrInvalidToken, r.opts.Claim)
	}

	return Identity{CustomerID: customerID, Scope: ScopeJWT}, true, nil
}

func (r *JWTResolver) parse(ctx context.Context, tokenString string) (jwt.Token, error) {
	parseOpts := []jwt.ParseOption{jwt.WithValidate(true)}

	if r.opts.Issuer != "" {
		parseOpts = append(parseOpts, jwt.WithIssuer(r.opts.Issuer))
	}

	if r.opts.Audience != "" {
		parseOpts = append(parseOpts, jwt.WithAudience(r.opts.Audience))
	}

	if r.cache != nil {
		keyset, err := r.cache.Get(ctx, r.opts.JWKSURL)
		if err != nil {
			return nil, fmt.Errorf("failed to get JWKS: %w", err)
		}

		parseOpts = append(parseOpts, jwt.WithKeySet(keyset))
	} else {
		parseOpts = append(parseOpts, jwt.WithKey(jwa.HS256, []byte(r.opts.Secret)))
	}

	token, err := jwt.Parse([]byte(tokenString), parseOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return token, nil
}
