package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/claude/formcheck/internal/storage"
	"tailscale.com/client/tailscale/apitype"
)

type ctxKey int

const (
	userIDKey ctxKey = iota
	userInfoKey
)

// UserInfo identifies the caller.
type UserInfo struct {
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

var devUser = UserInfo{Login: storage.LocalUser, DisplayName: "Local Dev User"}

// WhoIser resolves a tailnet peer address to its identity. Satisfied by the
// tsnet local client.
type WhoIser interface {
	WhoIs(ctx context.Context, remoteAddr string) (*apitype.WhoIsResponse, error)
}

// UserResolver maps a login to a local user ID.
type UserResolver interface {
	GetOrCreateUser(ctx context.Context, login, displayName string) (int, error)
}

// DevIdentity attributes every request to the seeded local user.
func DevIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), userIDKey, 1)
		ctx = context.WithValue(ctx, userInfoKey, devUser)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TailscaleIdentity identifies callers by their tailnet login. Requests from
// peers that cannot be resolved to a user are rejected.
func TailscaleIdentity(lc WhoIser, users UserResolver, log *slog.Logger) func(http.Handler) http.Handler {
	var ids sync.Map // login -> user ID

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			who, err := lc.WhoIs(r.Context(), r.RemoteAddr)
			if err != nil {
				log.Warn("whois failed", "remote", r.RemoteAddr, "error", err)
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unknown tailnet peer"})
				return
			}
			if who.UserProfile == nil || who.UserProfile.LoginName == "" {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "tagged devices are not allowed"})
				return
			}
			info := UserInfo{Login: who.UserProfile.LoginName, DisplayName: who.UserProfile.DisplayName}

			uid, ok := ids.Load(info.Login)
			if !ok {
				id, err := users.GetOrCreateUser(r.Context(), info.Login, info.DisplayName)
				if err != nil {
					log.Error("resolving user", "login", info.Login, "error", err)
					writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "resolving user failed"})
					return
				}
				ids.Store(info.Login, id)
				uid = id
			}

			ctx := context.WithValue(r.Context(), userIDKey, uid.(int))
			ctx = context.WithValue(ctx, userInfoKey, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// userIDFromContext returns the caller's user ID, defaulting to the local user.
func userIDFromContext(r *http.Request) int {
	if id, ok := r.Context().Value(userIDKey).(int); ok {
		return id
	}
	return 1
}

// userInfoFromContext returns the caller's identity, defaulting to the local user.
func userInfoFromContext(r *http.Request) UserInfo {
	if info, ok := r.Context().Value(userInfoKey).(UserInfo); ok {
		return info
	}
	return devUser
}
