package http

import (
	"context"

	"carbon-ledger-backend/internal/security"
)

type claimsKey struct{}

func withClaims(ctx context.Context, claims *security.UserClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the validated token claims the auth middleware
// attached to the request.
func ClaimsFromContext(ctx context.Context) (*security.UserClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*security.UserClaims)
	return claims, ok && claims != nil
}

// userID is only called from routes behind the auth middleware.
func userID(ctx context.Context) int32 {
	if claims, ok := ClaimsFromContext(ctx); ok {
		return claims.UserID
	}
	return 0
}
