package httpx

import "context"

type ctxKey string

// CtxKeyUserID holds the authenticated account id. Rate limiting keys on it.
const CtxKeyUserID ctxKey = "user_id"

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, CtxKeyUserID, userID)
}

func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(CtxKeyUserID).(string)
	return id
}
