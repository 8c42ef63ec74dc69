package cart

import (
	"context"
	"net/http"
)

type ctxKey string

const storeKey ctxKey = "cart_store"

func WithStore(ctx context.Context, s *Store) context.Context {
	return context.WithValue(ctx, storeKey, s)
}

func FromContext(ctx context.Context) (*Store, error) {
	s, ok := ctx.Value(storeKey).(*Store)
	if !ok || s == nil {
		return nil, ErrNoStore
	}
	return s, nil
}

// MustFromContext panics when ctx carries no store.
func MustFromContext(ctx context.Context) *Store {
	s, err := FromContext(ctx)
	if err != nil {
		panic("cart: MustFromContext: " + err.Error())
	}
	return s
}

// Scope makes s available to downstream handlers through FromContext.
func Scope(s *Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithStore(r.Context(), s)))
		})
	}
}
