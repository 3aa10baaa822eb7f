package auth

import "github.com/golang-jwt/jwt/v5"

// Claims identify a service caller: the operator console, the conversation runtime, or an admin tool.
// Subject is the caller name; Role drives RBAC.
type Claims struct {
	jwt.RegisteredClaims

	Role string `json:"role"`
}
