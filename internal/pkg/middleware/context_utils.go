package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const (
	ContextUserID contextKey = "userID"
	ContextToken  contextKey = "token"
	ContextRole   contextKey = "role"
)

func GetUserID(ctx context.Context) (string, bool) {
	val, ok := ctx.Value(ContextUserID).(string)
	return val, ok
}

func GetRole(ctx context.Context) (string, bool) {
	val, ok := ctx.Value(ContextRole).(string)
	return val, ok
}

func setContextValues(r *http.Request, claims *Claims, token string) *http.Request {
	ctx := context.WithValue(r.Context(), ContextUserID, claims.UserID)
	ctx = context.WithValue(ctx, ContextToken, token)
	ctx = context.WithValue(ctx, ContextRole, claims.Role)
	return r.WithContext(ctx)
}
