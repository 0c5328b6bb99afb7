package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/mycobrun/cobrun-picker/errors"
)

type claimsKey struct{}

// RequireSession rejects requests whose bearer token was not issued for the
// session that sessionID extracts from the request.
func RequireSession(m *JWTManager, sessionID func(*http.Request) string, requestID func(context.Context) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := ""
			if requestID != nil {
				reqID = requestID(r.Context())
			}

			tokenString, err := BearerToken(r)
			if err != nil {
				apperrors.WriteError(w, apperrors.Unauthorized(""), reqID)
				return
			}

			claims, err := m.Validate(tokenString)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, ErrTokenExpired) {
					msg = "token expired"
				}
				apperrors.WriteError(w, apperrors.Unauthorized(msg), reqID)
				return
			}

			if claims.SessionID != sessionID(r) {
				apperrors.WriteError(w, apperrors.Forbidden("token is for another session"), reqID)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoToken
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", ErrInvalidToken
	}
	return parts[1], nil
}

// ClaimsFromContext returns the claims RequireSession stored, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey{}).(*Claims)
	return claims
}

// WithClaims adds claims to the context. Useful for testing.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}
