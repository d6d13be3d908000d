package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims is the access token payload accepted by the API.
type JWTClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}
