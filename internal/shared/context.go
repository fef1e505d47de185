package shared

import (
	"context"

	"github.com/google/uuid"
)

// CurrentUser describes the authenticated actor attached to a request.
type CurrentUser struct {
	ID          uuid.UUID
	Email       string
	DisplayName string
}

type currentUserContextKey struct{}

// ContextWithUser stores the authenticated user in context.
func ContextWithUser(ctx context.Context, user *CurrentUser) context.Context {
	return context.WithValue(ctx, currentUserContextKey{}, user)
}

// UserFromContext extracts the authenticated user from context, nil when anonymous.
func UserFromContext(ctx context.Context) *CurrentUser {
	user, _ := ctx.Value(currentUserContextKey{}).(*CurrentUser)
	return user
}
