// Package identity carries the caller's user id, authenticated upstream,
// through a request context.
package identity

import (
	"context"
	"strconv"
	"strings"

	"github.com/jensholdgaard/cardmarket/internal/store"
)

type ctxKey struct{}

// WithUser returns a copy of ctx carrying userID.
func WithUser(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserFrom returns the user id stored by WithUser.
func UserFrom(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ctxKey{}).(int64)
	return id, ok
}

// ParseUserID parses a positive integer user id.
func ParseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id < 1 {
		return 0, store.Invalid("user id", "must be a positive integer")
	}
	return id, nil
}
