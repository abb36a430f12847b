package executor

import "context"

type userIDKey struct{}

// WithUserID attaches the requesting user's id to the execution context.
// The registry sets it before every Execute call.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserID returns the requesting user's id, or "" when absent.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}
