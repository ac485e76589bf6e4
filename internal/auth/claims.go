package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for operator tokens.
// Subject names the operator; Role is checked by internal/rbac.
type Claims struct {
	jwt.RegisteredClaims

	Role string `json:"role"`
}
