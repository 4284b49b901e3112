package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-retail-orders/internal/orders"
	"github.com/google/uuid"
)

// Principal is the caller as asserted by the upstream gateway.
type Principal struct {
	UserID      uuid.UUID
	Role        string
	Permissions map[string]bool
}

type principalKey struct{}

const (
	HeaderUserID          = "X-User-Id"
	HeaderUserRole        = "X-User-Role"
	HeaderUserPermissions = "X-User-Permissions"
)

// WithPrincipal reads the caller headers set by the gateway. Authentication
// happens upstream; requests without a valid user id are rejected.
func WithPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.Header.Get(HeaderUserID))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing or invalid " + HeaderUserID})
			return
		}
		p := Principal{
			UserID:      id,
			Role:        strings.TrimSpace(r.Header.Get(HeaderUserRole)),
			Permissions: map[string]bool{},
		}
		for _, perm := range strings.Split(r.Header.Get(HeaderUserPermissions), ",") {
			if perm = strings.TrimSpace(perm); perm != "" {
				p.Permissions[perm] = true
			}
		}
		ctx := context.WithValue(r.Context(), principalKey{}, p)
		ctx = orders.WithActor(ctx, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// HeaderPermissions answers permission checks from the request principal.
type HeaderPermissions struct{}

func (HeaderPermissions) HasPermission(ctx context.Context, name string) bool {
	p, ok := PrincipalFrom(ctx)
	return ok && p.Permissions[name]
}

func (HeaderPermissions) HasRole(ctx context.Context, name string) bool {
	p, ok := PrincipalFrom(ctx)
	return ok && p.Role == name
}
