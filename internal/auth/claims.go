package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const TokenTypeAccess TokenType = "access"

// Claims are the only supported JWT claims shape for this service. Users are issued tokens
// elsewhere; the engine verifies them and cmd/scheduler mints short-lived scheduler tokens.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
