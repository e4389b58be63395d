package tenancy

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type ctxKey string

const storeKey ctxKey = "storefront.store_id"

// WithStoreID stores the storefront id in context.
func WithStoreID(ctx context.Context, storeID string) context.Context {
	return context.WithValue(ctx, storeKey, storeID)
}

// StoreIDFromContext extracts the store id if present.
func StoreIDFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(storeKey)
	if val == nil {
		return "", false
	}
	storeID, ok := val.(string)
	return storeID, ok && storeID != ""
}

// StoreFromURL copies the {storeID} route parameter into the request context.
func StoreFromURL(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		storeID := strings.TrimSpace(chi.URLParam(r, "storeID"))
		if storeID == "" {
			http.Error(w, "missing store", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithStoreID(r.Context(), storeID)))
	})
}
