package api

import (
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"marketplace/auction"
	"marketplace/models"
)

const (
	actorKey        = "actor"
	accessTokenName = "access_token"
)

var ErrUnauthenticated = errors.New("missing or invalid access token")

// JWT 為存取權杖的內容，Subject 為使用者ID
type JWT struct {
	Username string          `json:"username"`
	Role     models.UserRole `json:"role"`
	VendorID *uuid.UUID      `json:"vendorId,omitempty"`
	jwt.RegisteredClaims
}

// Actor 將權杖轉換成發起操作的使用者
func (t *JWT) Actor() (auction.Actor, error) {
	userID, err := uuid.Parse(t.Subject)
	if err != nil {
		return auction.Actor{}, fmt.Errorf("invalid subject: %w", err)
	}
	return auction.Actor{
		UserID:   userID,
		VendorID: t.VendorID,
		Admin:    t.Role == models.UserRoleAdmin,
	}, nil
}

func ParseAndValidateJWT(tokenString string, publicKey crypto.PublicKey) (*JWT, error) {
	const op = "ParseJWT"
	token, err := jwt.ParseWithClaims(tokenString, &JWT{}, func(token *jwt.Token) (interface{}, error) {
		return publicKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%s: token is invalid", op)
	}
	claims, ok := token.Claims.(*JWT)
	if !ok {
		return nil, fmt.Errorf("%s: token claims are invalid", op)
	}
	return claims, nil
}

// accessToken 從 Authorization header 或 cookie 取得存取權杖
func accessToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	token, _ := c.Cookie(accessTokenName)
	return token
}

// requireActor 驗證存取權杖，並把 Actor 放進 gin context
func (s *Server) requireActor(c *gin.Context) {
	token := accessToken(c)
	if token == "" {
		abortWithError(c, s.logger, ErrUnauthenticated)
		return
	}
	claims, err := ParseAndValidateJWT(token, s.publicKey)
	if err != nil {
		s.logger.Debug("reject access token", slog.Any("error", err))
		abortWithError(c, s.logger, ErrUnauthenticated)
		return
	}
	actor, err := claims.Actor()
	if err != nil {
		abortWithError(c, s.logger, ErrUnauthenticated)
		return
	}
	c.Set(actorKey, actor)
	c.Next()
}

// requireAdmin 必須在 requireActor 之後使用
func (s *Server) requireAdmin(c *gin.Context) {
	if !actorFrom(c).Admin {
		abortWithError(c, s.logger, auction.ErrForbidden)
		return
	}
	c.Next()
}

func actorFrom(c *gin.Context) auction.Actor {
	actor, _ := c.MustGet(actorKey).(auction.Actor)
	return actor
}
