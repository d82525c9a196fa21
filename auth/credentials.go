package auth

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

// Header and metadata keys carrying credentials, in lookup order.
const (
	HeaderAuthorization = "Authorization"
	HeaderAPIKey        = "X-API-Key"
	HeaderSecret        = "Secret"
)

const bearerPrefix = "Bearer "

// FromHTTPRequest extracts credentials from r. The bearer token wins over
// X-API-Key, which wins over the Secret header.
func FromHTTPRequest(r *http.Request) Credentials {
	return Credentials{
		Token: firstToken(
			r.Header.Get(HeaderAuthorization),
			r.Header.Get(HeaderAPIKey),
			r.Header.Get(HeaderSecret),
		),
		RemoteAddr: r.RemoteAddr,
	}
}

// FromGRPCMetadata extracts credentials from incoming metadata using the
// same keys as FromHTTPRequest, lower-cased.
func FromGRPCMetadata(md metadata.MD) Credentials {
	return Credentials{
		Token: firstToken(
			firstValue(md, strings.ToLower(HeaderAuthorization)),
			firstValue(md, strings.ToLower(HeaderAPIKey)),
			firstValue(md, strings.ToLower(HeaderSecret)),
		),
	}
}

// FromGRPCContext extracts credentials and the peer address from a server context.
func FromGRPCContext(ctx context.Context) Credentials {
	md, _ := metadata.FromIncomingContext(ctx)
	c := FromGRPCMetadata(md)
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		c.RemoteAddr = p.Addr.String()
	}
	return c
}

func firstToken(authorization, apiKey, secret string) string {
	if strings.HasPrefix(authorization, bearerPrefix) {
		if t := strings.TrimSpace(strings.TrimPrefix(authorization, bearerPrefix)); t != "" {
			return t
		}
	}
	if apiKey != "" {
		return apiKey
	}
	return secret
}

func firstValue(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

// principalKey is the key for storing the principal in a context.
type principalKey struct{}

// NewContext returns a context carrying p.
func NewContext(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, or an anonymous one.
func FromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalKey{}).(*Principal); ok && p != nil {
		return p
	}
	return Anonymous()
}
