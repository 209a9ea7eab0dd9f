package auth

import (
	"context"
	"strings"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/logging"
)

// Options configure the Gate.
type Options struct {
	Logger logging.Logger
}

// Gate injects the trusted identity into turn state.
type Gate struct {
	resolver IdentityResolver
	logger   logging.Logger
}

// NewGate creates a gate. A nil resolver never injects an identity.
func NewGate(resolver IdentityResolver, optFns ...func(o *Options)) *Gate {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Gate{resolver: resolver, logger: opts.Logger}
}

// SanitizeState drops keys a caller must never set through the payload:
// the reserved identity keys and app-global keys.
func SanitizeState(state map[string]any) (clean map[string]any, dropped []string) {
	clean = make(map[string]any, len(state))

	for k, v := range state {
		if core.IsReservedKey(k) || strings.HasPrefix(k, core.AppPrefix) {
			dropped = append(dropped, k)
			continue
		}

		clean[k] = v
	}

	return clean, dropped
}

// Apply stages the sanitized payload state and the derived identity into buf.
// The derived identity always overwrites a value of the same key. A resolver
// error is logged and treated as "no identity"; the turn is not rejected.
// Repeated application for the same request yields the same state.
func (g *Gate) Apply(ctx context.Context, req core.TurnRequest, buf *core.StateBuffer) (Identity, bool) {
	clean, dropped := SanitizeState(req.State)
	if len(dropped) > 0 {
		g.logger.Warn("auth.gate.payload.dropped", "session", req.Key().String(), "keys", dropped)
	}

	buf.Apply(clean)

	if g.resolver == nil {
		return Identity{}, false
	}

	id, ok, err := g.resolver.Resolve(ctx, req)
	if err != nil {
		g.logger.Warn("auth.gate.resolve.error", "session", req.Key().String(), "error", err.Error())
		return Identity{}, false
	}

	if !ok || id.CustomerID == "" {
		g.logger.Debug("auth.gate.no_identity", "session", req.Key().String())
		return Identity{}, false
	}

	buf.Set(core.KeyCustomerID, id.CustomerID)
	buf.Set(core.KeyAuthScope, id.Scope)

	g.logger.Debug("auth.gate.identity", "session", req.Key().String(), "scope", id.Scope)

	return id, true
}
