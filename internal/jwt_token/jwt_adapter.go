package jwttoken

import (
	id "steward/pkg/domain"
	authmw "steward/pkg/platform/middleware/auth"
)

var _ authmw.PrincipalValidator = (*JWTServiceAdapter)(nil)

// JWTServiceAdapter lets the auth middleware resolve principals from tokens.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*id.Principal, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return claims.Principal()
}
