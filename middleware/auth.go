package middleware

import (
	"context"
	"errors"

	"github.com/n-car/rpckit"
	"github.com/n-car/rpckit/observability"
)

// Principal is an authenticated caller.
type Principal struct {
	UserID string         `json:"userId"`
	Roles  []string       `json:"roles,omitempty"`
	Claims map[string]any `json:"claims,omitempty"`
}

// Verifier resolves a presented token to a principal. Verification itself, e.g.
// JWT or API key lookup, is supplied by the application.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, token string) (*Principal, error)

func (f VerifierFunc) Verify(ctx context.Context, token string) (*Principal, error) {
	return f(ctx, token)
}

// TokenFunc extracts the credential of a call.
type TokenFunc func(rc *rpckit.RequestContext) string

// RequestToken returns the token the transport stored on the request context.
func RequestToken(rc *rpckit.RequestContext) string {
	if rc == nil {
		return ""
	}
	return rc.Token
}

// Auth requires a verified principal for every call not on the bypass list.
type Auth struct {
	verifier Verifier
	token    TokenFunc
	bypass   []string
	logger   observability.Logger
}

// AuthOption configures Auth.
type AuthOption func(*Auth)

func WithTokenFunc(fn TokenFunc) AuthOption {
	return func(a *Auth) { a.token = fn }
}

// WithBypass lets methods matching any of patterns through unauthenticated.
func WithBypass(patterns ...string) AuthOption {
	return func(a *Auth) { a.bypass = append(a.bypass, patterns...) }
}

func WithAuthLogger(logger observability.Logger) AuthOption {
	return func(a *Auth) { a.logger = logger }
}

func NewAuth(verifier Verifier, opts ...AuthOption) *Auth {
	a := &Auth{
		verifier: verifier,
		token:    RequestToken,
		logger:   observability.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Before verifies the caller and stores the principal and user id on rc.
func (a *Auth) Before(ctx context.Context, req *rpckit.Request, rc *rpckit.RequestContext) error {
	if MatchAny(a.bypass, req.Method) {
		return nil
	}

	token := a.token(rc)
	if token == "" {
		return rpckit.NewAuthenticationError("")
	}

	principal, err := a.verifier.Verify(ctx, token)
	if err != nil {
		a.logger.WithContext(ctx).WithErr(err).WithFields(map[string]interface{}{
			"method":        req.Method,
			"correlationID": rc.CorrelationID,
		}).Warn("Token verification failed")

		var rpcErr *rpckit.Error
		if errors.As(err, &rpcErr) {
			return rpcErr
		}
		return rpckit.WrapError(rpckit.CodeAuthenticationError, "Invalid token", err)
	}
	if principal == nil {
		return rpckit.NewAuthenticationError("")
	}

	rc.Principal = principal
	rc.UserID = principal.UserID
	return nil
}

// PrincipalFrom returns the principal set by Auth.
func PrincipalFrom(rc *rpckit.RequestContext) (*Principal, bool) {
	if rc == nil {
		return nil, false
	}
	p, ok := rc.Principal.(*Principal)
	return p, ok
}
