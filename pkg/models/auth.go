package models

import "github.com/golang-jwt/jwt/v5"

// ShopperClaims are issued by the storefront for identified shoppers.
// Anonymous shoppers send no token at all.
type ShopperClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}
