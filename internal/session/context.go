package session

import "context"

type ctxKey struct{}

func WithContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the request's session, or nil for anonymous requests
// that passed through no auth middleware.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}

// RequireUID returns the signed-in identity of the request's session.
func RequireUID(ctx context.Context) (string, error) {
	s := FromContext(ctx)
	if s == nil || !s.Authenticated() {
		return "", ErrNotSignedIn
	}
	return s.CurrentToken(), nil
}
