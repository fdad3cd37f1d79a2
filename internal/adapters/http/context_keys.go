package http

// contextKey is a typed key for request context values.
type contextKey string

const (
	// claimsContextKey holds the verified token claims (JWT or OIDC).
	claimsContextKey contextKey = "claims"
	// userIDContextKey holds the authenticated user's id (the token's sub).
	userIDContextKey contextKey = "userID"
)
