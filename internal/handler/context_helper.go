package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-adp-archiver/internal/middleware"
	"github.com/noah-isme/sma-adp-archiver/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// actorFromContext turns the token claims into the user the services check permissions for.
func actorFromContext(c *gin.Context) *models.User {
	claims := claimsFromContext(c)
	if claims == nil || claims.UserID == "" {
		return nil
	}
	return &models.User{
		ID:       claims.UserID,
		Email:    claims.Email,
		FullName: claims.FullName,
		Role:     claims.Role,
		Active:   true,
	}
}
