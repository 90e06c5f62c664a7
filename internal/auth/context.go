package auth

import (
	"context"

	"taskshare/internal/model"
)

type ctxKey string

const userContextKey ctxKey = "taskshare.auth.user"

func ContextWithUser(ctx context.Context, u model.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

func UserFromContext(ctx context.Context) (model.User, bool) {
	v := ctx.Value(userContextKey)
	u, ok := v.(model.User)
	return u, ok
}
