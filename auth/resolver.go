package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/supportmesh/core"
)

// Identity scopes recorded under core.KeyAuthScope.
const (
	ScopeStatic          = "static"
	ScopeHeader          = "header"
	ScopeJWT             = "jwt"
	ScopeCRMVerification = "crm_verification"
)

// DefaultCustomerID is the identity the static resolver injects by default.
const DefaultCustomerID = "CUST001"

// Identity is a derived, trusted caller identity.
type Identity struct {
	CustomerID string
	Scope      string
}

// IdentityResolver derives an identity from the transport context of a turn.
// ok is false when the resolver has nothing to say about the turn.
type IdentityResolver interface {
	Resolve(ctx context.Context, req core.TurnRequest) (id Identity, ok bool, err error)
}

// ResolverFunc adapts a function to IdentityResolver.
type ResolverFunc func(ctx context.Context, req core.TurnRequest) (Identity, bool, error)

// Resolve implements IdentityResolver.
func (f ResolverFunc) Resolve(ctx context.Context, req core.TurnRequest) (Identity, bool, error) {
	return f(ctx, req)
}

// StaticResolver always yields the same customer id.
type StaticResolver struct {
	CustomerID string
}

// NewStaticResolver creates a static resolver; an empty id uses DefaultCustomerID.
func NewStaticResolver(customerID string) *StaticResolver {
	if customerID == "" {
		customerID = DefaultCustomerID
	}

	return &StaticResolver{CustomerID: customerID}
}

// Resolve implements IdentityResolver.
func (r *StaticResolver) Resolve(context.Context, core.TurnRequest) (Identity, bool, error) {
	return Identity{CustomerID: r.CustomerID, Scope: ScopeStatic}, true, nil
}

// HeaderResolver reads the identity from a transport header.
type HeaderResolver struct {
	Header string
}

// NewHeaderResolver creates a header resolver; an empty name uses "user_id".
func NewHeaderResolver(header string) *HeaderResolver {
	if header == "" {
		header = "user_id"
	}

	return &HeaderResolver{Header: header}
}

// Resolve implements IdentityResolver.
func (r *HeaderResolver) Resolve(_ context.Context, req core.TurnRequest) (Identity, bool, error) {
	if req.Headers == nil {
		return Identity{}, false, nil
	}

	v := strings.TrimSpace(req.Headers.Get(r.Header))
	if v == "" {
		return Identity{}, false, nil
	}

	return Identity{CustomerID: v, Scope: ScopeHeader}, true, nil
}

// ChainResolver tries resolvers in order; the first identity wins. Errors
// are collected and only returned when no resolver produced an identity.
type ChainResolver []IdentityResolver

// Resolve implements IdentityResolver.
func (c ChainResolver) Resolve(ctx context.Context, req core.TurnRequest) (Identity, bool, error) {
	var errs []error

	for i, r := range c {
		id, ok, err := r.Resolve(ctx, req)
		if err != nil {
			errs = append(errs, fmt.Errorf("resolver %d: %w", i, err))
			continue
		}

		if ok {
			return id, true, nil
		}
	}

	return Identity{}, false, errors.Join(errs...)
}
