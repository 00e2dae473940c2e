package httpx

import "context"

type ctxKey string

const CtxKeyBearer ctxKey = "bearer_token"

// BearerFromContext returns the session token injected by RequireSession.
func BearerFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(CtxKeyBearer).(string)
	return v, ok && v != ""
}
