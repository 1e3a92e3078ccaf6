package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	CtxUserIDKey = "user_id"
	CtxRoleKey   = "role"
)

// parseBearer: Authorization: Bearer <token> を検証して (sub, role) を返す
func parseBearer(c *gin.Context, secret []byte) (string, string, string) {
	h := c.GetHeader("Authorization")
	if h == "" {
		return "", "", "missing Authorization header"
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", "", "invalid Authorization header"
	}
	tokenStr := strings.TrimSpace(parts[1])
	if tokenStr == "" {
		return "", "", "empty token"
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		// alg 固定（none攻撃とか回避）
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || token == nil || !token.Valid {
		return "", "", "invalid token"
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", "invalid claims"
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", "", "invalid sub"
	}
	role, _ := claims["role"].(string)
	return sub, role, ""
}

// RequireAuth: トークン必須。context に sub/role を詰める
func RequireAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, role, msg := parseBearer(c, secret)
		if msg != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}
		c.Set(CtxUserIDKey, sub)
		c.Set(CtxRoleKey, role)
		c.Next()
	}
}

// OptionalAuth: トークンがあれば検証して詰める。無い・不正でも止めない（webhook 用）
func OptionalAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sub, role, msg := parseBearer(c, secret); msg == "" {
			c.Set(CtxUserIDKey, sub)
			c.Set(CtxRoleKey, role)
		}
		c.Next()
	}
}

// RequireRole: 例) admin のみ許可したい時に追加
func RequireRole(roles ...string) gin.HandlerFunc {
	roleSet := make(map[string]struct{})
	for _, r := range roles {
		if r == "" {
			continue
		}
		roleSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role := Role(c)
		if role == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing role"})
			return
		}
		if _, allowed := roleSet[role]; !allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func UserID(c *gin.Context) string { return c.GetString(CtxUserIDKey) }
func Role(c *gin.Context) string   { return c.GetString(CtxRoleKey) }
func IsAdmin(c *gin.Context) bool  { return Role(c) == RoleAdmin }
