// Package auth resolves the signed-in user of a request from its session
// token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/chat-gateway/internal/store"
)

// CookieName is the cookie carrying the session token.
const CookieName = "session_token"

const sessionKey = "auth_session"

// ErrUnauthenticated is returned when a request has no valid session.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// Session is an authenticated request's identity.
type Session struct {
	Token string
	User  *store.User
}

// SessionStore looks up the user of a session token.
type SessionStore interface {
	SessionUser(ctx context.Context, token string) (*store.User, error)
}

type Authenticator struct {
	store SessionStore
}

func New(s SessionStore) *Authenticator {
	return &Authenticator{store: s}
}

// Session returns the session of the request. The first call per request
// hits the store; later calls reuse the result.
func (a *Authenticator) Session(ctx *fasthttp.RequestCtx) (*Session, error) {
	if s, ok := ctx.UserValue(sessionKey).(*Session); ok {
		return s, nil
	}

	token := Token(ctx)
	if token == "" {
		return nil, ErrUnauthenticated
	}

	user, err := a.store.SessionUser(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("auth: load session: %w", err)
	}

	s := &Session{Token: token, User: user}
	ctx.SetUserValue(sessionKey, s)
	return s, nil
}

// Token extracts the session token from the session cookie or, failing
// that, from an "Authorization: Bearer" header.
func Token(ctx *fasthttp.RequestCtx) string {
	if c := strings.TrimSpace(string(ctx.Request.Header.Cookie(CookieName))); c != "" {
		return c
	}
	return bearer(string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization)))
}

func bearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
