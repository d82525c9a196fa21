// Package auth implements the gateway access checks: a shared-secret token
// check applied to whole requests, and a role-claim check applied to
// privileged methods.
package auth

import (
	"crypto/subtle"
	"fmt"
	"net/netip"

	"github.com/blockberries/nodegate/types"
)

// Principal authentication methods.
const (
	MethodNone     = "none"
	MethodOpen     = "open"
	MethodSecret   = "secret"
	MethodAPIKey   = "api_key"
	MethodLoopback = "loopback"
)

// APIKey is an additional credential bound to a single role.
type APIKey struct {
	Key  string
	Role string
}

// Config contains access control configuration. It is immutable once
// passed to NewGate.
type Config struct {
	// Secret is the shared-secret token. Empty disables the token check
	// and grants SecretRole to every caller.
	Secret string

	// SecretRole is the role granted to callers presenting Secret.
	SecretRole string

	// PolicyName names the privileged-field policy in logs and schema output.
	PolicyName string

	// ClaimType and ClaimValue are the claim the policy requires.
	ClaimType  string
	ClaimValue string

	// PrivilegedMethods lists methods guarded by the policy.
	PrivilegedMethods []string

	// APIKeys are accepted in addition to Secret.
	APIKeys []APIKey

	// TrustLoopback grants SecretRole to callers connecting from a
	// loopback address.
	TrustLoopback bool
}

// DefaultConfig returns an open configuration with the default policy.
func DefaultConfig() Config {
	return Config{
		SecretRole:        "Admin",
		PolicyName:        "LocalPolicy",
		ClaimType:         "role",
		ClaimValue:        "Admin",
		PrivilegedMethods: []string{"stagedTransactionIds"},
	}
}

// Credentials are what a caller presented with a request.
type Credentials struct {
	// Token is the presented bearer token, API key or secret.
	Token string

	// RemoteAddr is the caller's network address, host:port or bare host.
	RemoteAddr string
}

// Principal is the authenticated identity of a request.
type Principal struct {
	// Method is how the principal was established.
	Method string

	// Claims holds claim values by claim type.
	Claims map[string][]string
}

// HasClaim reports whether the principal carries the claim.
func (p *Principal) HasClaim(claimType, value string) bool {
	if p == nil {
		return false
	}
	for _, v := range p.Claims[claimType] {
		if v == value {
			return true
		}
	}
	return false
}

// Anonymous returns a principal without claims.
func Anonymous() *Principal {
	return &Principal{Method: MethodNone}
}

// Gate performs the token and claim checks. It holds no mutable state.
type Gate struct {
	cfg        Config
	privileged map[string]struct{}
}

// NewGate creates a gate from cfg.
func NewGate(cfg Config) *Gate {
	g := &Gate{
		cfg:        cfg,
		privileged: make(map[string]struct{}, len(cfg.PrivilegedMethods)),
	}
	for _, m := range cfg.PrivilegedMethods {
		g.privileged[m] = struct{}{}
	}
	g.cfg.APIKeys = append([]APIKey(nil), cfg.APIKeys...)
	return g
}

// Config returns the gate configuration.
func (g *Gate) Config() Config {
	return g.cfg
}

// Required reports whether requests must present a token.
func (g *Gate) Required() bool {
	return g.cfg.Secret != ""
}

// IsPrivileged reports whether method is guarded by the claim policy.
func (g *Gate) IsPrivileged(method string) bool {
	_, ok := g.privileged[method]
	return ok
}

// Authenticate performs the token check.
//
// Without a configured secret every request is admitted with SecretRole; a
// token matching an API key grants that key's role instead. With a secret the token must
// match the secret or an API key, otherwise types.ErrUnauthenticated is
// returned and the request must be rejected as a whole.
func (g *Gate) Authenticate(c Credentials) (*Principal, error) {
	if p := g.matchToken(c.Token); p != nil {
		return p, nil
	}

	if g.cfg.TrustLoopback && isLoopback(c.RemoteAddr) {
		return g.withRole(MethodLoopback, g.cfg.SecretRole), nil
	}

	if !g.Required() {
		return g.withRole(MethodOpen, g.cfg.SecretRole), nil
	}
	if c.Token == "" {
		return nil, fmt.Errorf("%w: missing token", types.ErrUnauthenticated)
	}
	return nil, fmt.Errorf("%w: invalid token", types.ErrUnauthenticated)
}

// matchToken returns the principal for a token, or nil when nothing matches.
// All candidates are compared so timing does not reveal which one matched.
func (g *Gate) matchToken(token string) *Principal {
	if token == "" {
		return nil
	}

	var match *Principal
	if g.cfg.Secret != "" && constantTimeEqual(token, g.cfg.Secret) {
		match = g.withRole(MethodSecret, g.cfg.SecretRole)
	}
	for _, k := range g.cfg.APIKeys {
		if k.Key != "" && constantTimeEqual(token, k.Key) && match == nil {
			match = g.withRole(MethodAPIKey, k.Role)
		}
	}
	return match
}

func (g *Gate) withRole(method, role string) *Principal {
	p := &Principal{Method: method, Claims: map[string][]string{}}
	if role != "" {
		p.Claims[g.cfg.ClaimType] = []string{role}
	}
	return p
}

// Authorize performs the claim check for method. Non-privileged methods
// always pass; privileged methods need the policy claim, otherwise
// types.ErrUnauthorized is returned.
func (g *Gate) Authorize(p *Principal, method string) error {
	if !g.IsPrivileged(method) {
		return nil
	}
	if p.HasClaim(g.cfg.ClaimType, g.cfg.ClaimValue) {
		return nil
	}
	return fmt.Errorf("%w: %s requires %s (%s=%s)",
		types.ErrUnauthorized, method, g.cfg.PolicyName, g.cfg.ClaimType, g.cfg.ClaimValue)
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func isLoopback(remote string) bool {
	if remote == "" {
		return false
	}
	if ap, err := netip.ParseAddrPort(remote); err == nil {
		return ap.Addr().IsLoopback()
	}
	if a, err := netip.ParseAddr(remote); err == nil {
		return a.IsLoopback()
	}
	return false
}
