package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "steward/pkg/domain"
	dErrors "steward/pkg/domain-errors"
	"steward/pkg/email"
	"steward/pkg/platform/strings"
)

// Claims represents the identity claims the console trusts from its identity
// provider.
type Claims struct {
	Email          string   `json:"email"`
	Name           string   `json:"name,omitempty"`
	Role           string   `json:"role"`
	TenantID       string   `json:"tenant_id,omitempty"`
	AllowedDomains []string `json:"allowed_domains,omitempty"`
	DefaultDomain  string   `json:"default_domain,omitempty"`
	jwt.RegisteredClaims
}

// JWTService handles HS256 token creation and validation
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
	now        func() time.Time
}

func NewJWTService(signingKey string, issuer string, audience string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		now:        time.Now,
	}
}

// GenerateAccessToken signs a token for p. The console itself only verifies
// tokens; issuing is for tooling and tests.
func (s *JWTService) GenerateAccessToken(p id.Principal, expiresIn time.Duration) (string, error) {
	domains := make([]string, len(p.AllowedDomains))
	for i, d := range p.AllowedDomains {
		domains[i] = string(d)
	}
	now := s.now()
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email:          p.Email,
		Name:           p.Name,
		Role:           string(p.Role),
		TenantID:       string(p.TenantID),
		AllowedDomains: domains,
		DefaultDomain:  string(p.DefaultDomain),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Email,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})

	signedToken, err := newToken.SignedString(s.signingKey)
	if err != nil {
		return "", err
	}
	return signedToken, nil
}

func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// Principal builds the acting principal from validated claims. A missing name
// is derived from the email address.
func (c *Claims) Principal() (*id.Principal, error) {
	role, err := id.ParseRole(c.Role)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid role claim")
	}

	var tenant id.TenantID
	if c.TenantID != "" {
		if tenant, err = id.ParseTenantID(c.TenantID); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid tenant claim")
		}
	}

	var domains []id.Domain
	for _, raw := range strings.DedupeAndTrimLower(c.AllowedDomains) {
		d, err := id.ParseDomain(raw)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid domain claim")
		}
		domains = append(domains, d)
	}

	name := c.Name
	if name == "" && c.Email != "" {
		first, last := email.DeriveNameFromEmail(c.Email)
		name = first + " " + last
	}
	return id.NewPrincipal(c.Email, name, role, tenant, domains, id.Domain(c.DefaultDomain))
}
