package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the authenticated principal (Subject) and the device the
// token was minted for. Every batch submission and coordination query is
// scoped by both.
type Claims struct {
	Device string `json:"device"`
	jwt.RegisteredClaims
}

func ParseClaims(tokenString, jwtSecret string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return []byte(jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}
