package authchain

import "context"

type clientIPContextKey struct{}

// WithClientIP attaches the caller's network address to ctx. The IP filter
// step evaluates it, and audit events record it. A pipeline containing an
// IP filter denies requests whose context carries no address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
