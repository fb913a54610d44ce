// Package context provides request-scoped values extraction.
package context

import (
	"context"
)

// UserContext identifies the operator on whose behalf the engine acts.
// It is populated by the transport layer; the engine only reads it to stamp audit records.
type UserContext struct {
	UserID string
	Name   string
	Roles  []string
}

type userContextKey struct{}

// WithUser adds UserContext to context.
func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// GetUser returns UserContext from context.
func GetUser(ctx context.Context) *UserContext {
	if v, ok := ctx.Value(userContextKey{}).(*UserContext); ok {
		return v
	}
	return nil
}

// GetUserID returns user ID from context or empty string.
func GetUserID(ctx context.Context) string {
	if u := GetUser(ctx); u != nil {
		return u.UserID
	}
	return ""
}

// Actor returns the display identity used in audit records.
// Falls back to "system" for background jobs.
func Actor(ctx context.Context) string {
	u := GetUser(ctx)
	if u == nil {
		return "system"
	}
	if u.Name != "" {
		return u.Name
	}
	if u.UserID != "" {
		return u.UserID
	}
	return "system"
}
