package api

import (
	"context"
	"net/http"
)

// Identity is the verified (userId, email) pair the authentication
// collaborator attaches to every request. The settlement core never
// authenticates on its own.
type Identity struct {
	UserID string
	Email  string
}

type contextKey string

const identityKey contextKey = "identity"

// RequireIdentity lifts the identity headers into the request context and
// rejects requests that arrive without them.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			respondWithJSON(w, http.StatusUnauthorized, errorBody("Missing identity"))
			return
		}
		ident := Identity{UserID: userID, Email: r.Header.Get("X-User-Email")}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), ident)))
	})
}

func withIdentity(ctx context.Context, ident Identity) context.Context {
	return context.WithValue(ctx, identityKey, ident)
}

func identityFrom(ctx context.Context) (Identity, bool) {
	ident, ok := ctx.Value(identityKey).(Identity)
	return ident, ok
}
