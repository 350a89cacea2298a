package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"annotrack/internal/domain"
	"annotrack/internal/engine"
	"annotrack/internal/repo"
)

type AuthConfig struct {
	JWTSecret string
	// AutoProvision creates an employee record on first JWT login for an
	// unknown username.
	AutoProvision bool
	Logger        *log.Logger
}

// Principal is the authenticated employee behind a request.
type Principal struct {
	Employee domain.Employee
	Source   string
}

type principalKey struct{}

func (c AuthConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func employeeFromContext(ctx context.Context) (domain.Employee, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.Employee.ID != "" {
		return p.Employee, nil
	}
	return domain.Employee{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func requireAdmin(ctx context.Context) (domain.Employee, huma.StatusError) {
	emp, authErr := employeeFromContext(ctx)
	if authErr != nil {
		return emp, authErr
	}
	if !emp.IsAdmin {
		return emp, newAPIError(http.StatusForbidden, "forbidden", "admin privileges required", nil)
	}
	return emp, nil
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Email     string `json:"email,omitempty"`
	FirstName string `json:"given_name,omitempty"`
	LastName  string `json:"family_name,omitempty"`
}

func authenticateJWT(ctx context.Context, e engine.Engine, cfg AuthConfig, token string) (Principal, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
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
	emp, err := e.Repo.GetEmployeeByUsername(ctx, claims.Subject)
	if errors.Is(err, repo.ErrNotFound) && cfg.AutoProvision {
		emp, err = e.CreateEmployee(ctx, engine.EmployeeCreateOptions{
			Username:  claims.Subject,
			Email:     claims.Email,
			FirstName: claims.FirstName,
			LastName:  claims.LastName,
			ActorID:   claims.Subject,
		})
	}
	if err != nil {
		return Principal{}, err
	}
	return Principal{Employee: emp, Source: "jwt"}, nil
}

func authenticateAPIKey(ctx context.Context, r repo.Repo, key string) (Principal, error) {
	if strings.TrimSpace(key) == "" {
		return Principal{}, errors.New("api key required")
	}
	apiKey, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return Principal{}, err
	}
	emp, err := r.GetEmployee(ctx, apiKey.EmployeeID)
	if err != nil {
		return Principal{}, err
	}
	return Principal{Employee: emp, Source: "api_key"}, nil
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
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if req.URL.Path == healthPath {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))

			if authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				principal, err := authenticateJWT(req.Context(), e, cfg, token)
				if err != nil {
					cfg.logger().Printf("jwt auth failed: %v", err)
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			if apiKeyHeader != "" {
				principal, err := authenticateAPIKey(req.Context(), e.Repo, apiKeyHeader)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
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
