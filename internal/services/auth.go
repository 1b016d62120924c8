package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/temcen/giftwise/internal/config"
	"github.com/temcen/giftwise/pkg/models"
)

const tokenIssuer = "giftwise"

// ShopperAuth identifies shoppers from storefront-issued HS256 tokens.
// Identification is optional; with no secret configured every request is
// anonymous.
type ShopperAuth struct {
	jwtSecret []byte
	logger    *logrus.Logger
}

func NewShopperAuth(cfg config.AuthConfig, logger *logrus.Logger) *ShopperAuth {
	return &ShopperAuth{
		jwtSecret: []byte(cfg.JWTSecret),
		logger:    logger,
	}
}

func (s *ShopperAuth) Enabled() bool {
	return len(s.jwtSecret) > 0
}

// GenerateToken signs a token for userID. Used by the storefront tooling and
// tests; the service itself only validates.
func (s *ShopperAuth) GenerateToken(userID string, ttl time.Duration) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("token signing disabled: no jwt secret configured")
	}

	now := time.Now()
	claims := &models.ShopperClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

func (s *ShopperAuth) ValidateToken(tokenString string) (*models.ShopperClaims, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("token validation disabled: no jwt secret configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &models.ShopperClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*models.ShopperClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}
