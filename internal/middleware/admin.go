package middleware

import (
	"context"
	"log/slog"
	"net/http"
)

const (
	RoleViewAccounts   = "CanViewAccounts"
	RoleDeleteAccounts = "CanDeleteAccounts"
	RoleViewAudit      = "CanViewAudit"
)

type AdminStore interface {
	IsAdmin(ctx context.Context, userID string) (bool, bool, error)
	HasRole(ctx context.Context, userID, role string) (bool, error)
}

// RequireAdmin admits super admins unconditionally and other admins only when
// they hold role. An empty role admits any admin.
func RequireAdmin(adminStore AdminStore, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			isAdmin, isSuper, err := adminStore.IsAdmin(r.Context(), principal.UserID)
			if err != nil {
				slog.ErrorContext(r.Context(), "admin lookup failed", "user_id", principal.UserID, "error", err)
				http.Error(w, "unable to verify admin", http.StatusInternalServerError)
				return
			}
			if !isAdmin {
				http.Error(w, "admin privileges required", http.StatusForbidden)
				return
			}
			if isSuper || role == "" {
				next.ServeHTTP(w, r)
				return
			}
			hasRole, err := adminStore.HasRole(r.Context(), principal.UserID, role)
			if err != nil {
				http.Error(w, "unable to verify role", http.StatusInternalServerError)
				return
			}
			if !hasRole {
				http.Error(w, "missing required role", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
