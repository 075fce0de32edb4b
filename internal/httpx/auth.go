package httpx

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-shop-orders/internal/authz"
	"github.com/golang-jwt/jwt/v5"
)

// Authenticator verifies HS256 bearer tokens carrying "sub" and "role"
// claims and puts the resulting actor on the request context.
type Authenticator struct {
	Secret []byte
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.actor(r.Header.Get("Authorization"))
		if err != nil {
			writeProblem(w, http.StatusUnauthorized, "unauthenticated", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(authz.WithActor(r.Context(), actor)))
	})
}

func (a *Authenticator) actor(header string) (authz.Actor, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return authz.Actor{}, errors.New("missing bearer token")
	}
	token, err := jwt.Parse(strings.TrimSpace(raw), func(*jwt.Token) (any, error) {
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return authz.Actor{}, errors.New("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return authz.Actor{}, errors.New("invalid token claims")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return authz.Actor{}, errors.New("token has no subject")
	}
	role, _ := claims["role"].(string)
	if !authz.Role(role).Valid() {
		return authz.Actor{}, errors.New("token has no valid role")
	}
	return authz.Actor{ID: sub, Role: authz.Role(role)}, nil
}
