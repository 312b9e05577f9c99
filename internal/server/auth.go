package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"slam/internal/engine/auth"
	"slam/internal/logger"
)

// AuthConfig controls how a request is mapped to an acting identity.
type AuthConfig struct {
	JWTSecret        string
	AllowActorHeader bool
	DefaultActor     string
}

type Principal struct {
	ActorID string
	Source  string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func actorIDFromContext(ctx context.Context) (string, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.ActorID != "" {
		return p.ActorID, nil
	}
	return "", newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

type jwtClaims struct {
	jwt.RegisteredClaims
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
	return Principal{ActorID: claims.Subject, Source: "jwt"}, nil
}

// SignToken mints an HS256 token for actorID. Used by the CLI and tests.
func SignToken(secret, actorID string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	claims := jwtClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: actorID}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// newIdentityMiddleware resolves the acting identity. A bearer token wins,
// then X-Actor-Id when allowed, then the configured default actor. Only a
// malformed or invalid bearer token is rejected.
func newIdentityMiddleware(cfg AuthConfig, log *logger.Logger) func(http.Handler) http.Handler {
	defaultActor := strings.TrimSpace(cfg.DefaultActor)
	if defaultActor == "" {
		defaultActor = "anonymous"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			headerActor := strings.TrimSpace(req.Header.Get("X-Actor-Id"))

			if authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					rejectCredentials(w, req)
					return
				}
				principal, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					log.Debug("bearer token rejected", "error", err)
					rejectCredentials(w, req)
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			if headerActor != "" && cfg.AllowActorHeader {
				ctx := withPrincipal(req.Context(), Principal{ActorID: headerActor, Source: "header"})
				next.ServeHTTP(w, req.WithContext(ctx))
				return
			}

			ctx := withPrincipal(req.Context(), Principal{ActorID: defaultActor, Source: "default"})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

// rejectCredentials answers a bad bearer token. The action endpoint keeps
// its 200 {success:false} envelope; the resource API gets a 401.
func rejectCredentials(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path == execPath {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"error":   "invalid credentials",
			"code":    "invalid_credentials",
		})
		return
	}
	respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
}

func requirePermission(ctx context.Context, perms auth.Service, perm string) (string, error) {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return "", authErr
	}
	if err := perms.Require(actorID, perm); err != nil {
		return "", err
	}
	return actorID, nil
}
