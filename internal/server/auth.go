package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"worksafe/internal/engine"
	"worksafe/internal/engine/auth"
	"worksafe/internal/share"
)

const (
	headerActorID        = "X-Actor-Id"
	headerSigningSession = "X-Signing-Session"
	guestActorID         = "guest"
)

type AuthConfig struct {
	JWTSecret              string
	AllowLegacyActorHeader bool
	// Shares verifies guest share tokens. Without it share tokens are refused.
	Shares *share.Issuer
	Logger *zap.Logger
}

type Principal struct {
	ActorID string
	Name    string
	Source  string
	// Grant is set when the request carries a share token.
	Grant          *share.Grant
	SigningSession bool
}

type principalKey struct{}

func (c AuthConfig) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// accessFromContext turns the request principal into engine access. Share
// token holders get guest access to the one work order of their grant.
func accessFromContext(ctx context.Context) (auth.Access, huma.StatusError) {
	p, ok := principalFromContext(ctx)
	if !ok || (p.ActorID == "" && p.Grant == nil) {
		return auth.Access{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	if p.Grant != nil {
		acc := auth.Guest(p.ActorID, p.Grant.Namespace, p.Grant.WorkOrderID)
		acc.SigningSession = p.SigningSession
		return acc, nil
	}
	return auth.Owner(p.ActorID), nil
}

func ownerFromContext(ctx context.Context) (string, huma.StatusError) {
	p, ok := principalFromContext(ctx)
	if !ok || p.ActorID == "" || p.Grant != nil {
		return "", newAPIError(http.StatusUnauthorized, "unauthorized", "user authentication required", nil)
	}
	return p.ActorID, nil
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

func authenticateJWT(token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	return Principal{ActorID: claims.Subject, Name: claims.Name, Source: "jwt"}, nil
}

func signDevToken(secret, actorID, name string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(12 * time.Hour)),
		},
		Name: name,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig, e engine.Engine) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if req.URL.Path == healthPath || req.URL.Path == devLoginPath {
				next.ServeHTTP(w, req)
				return
			}

			var principal Principal
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			legacyActor := strings.TrimSpace(req.Header.Get(headerActorID))
			shareToken := strings.TrimSpace(req.Header.Get(share.Header))

			switch {
			case authz != "":
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				p, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				principal = p
			case legacyActor != "" && cfg.AllowLegacyActorHeader:
				cfg.logger().Warn("legacy X-Actor-Id header used without authentication", zap.String("actor_id", legacyActor))
				principal = Principal{ActorID: legacyActor, Source: "legacy_header"}
			}

			if shareToken != "" {
				if cfg.Shares == nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_share_token", "share links are not enabled", nil))
					return
				}
				grant, err := cfg.Shares.Verify(shareToken)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_share_token", "invalid or expired share token", nil))
					return
				}
				principal.Grant = &grant
				principal.SigningSession = strings.EqualFold(req.Header.Get(headerSigningSession), "true")
				if principal.ActorID == "" {
					principal.ActorID = guestActorID
					principal.Source = "share_token"
				}
			} else if principal.ActorID == "" {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			} else if _, err := e.EnsureProfile(req.Context(), principal.ActorID, principal.Name, ""); err != nil {
				respondStatusError(w, handleError(err))
				return
			}

			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
