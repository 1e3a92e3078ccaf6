package webhooks

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kanatamon/covid19-home-isolation/internal/platform/auth"
)

const (
	SignatureHeader = "X-Hub-Signature-256"
	signaturePrefix = "sha256="

	maxBodyBytes = 1 << 20
)

// Sign: X-Hub-Signature-256 の値を作る
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, body []byte, header string) bool {
	if secret == "" || !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// readBody: 本文を読んで後続のハンドラ用に戻しておく
func readBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// RequireSignature: admin の JWT（OptionalAuth で詰めたもの）か、本文の HMAC 署名が必要
func RequireSignature(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth.IsAdmin(c) {
			c.Next()
			return
		}
		body, err := readBody(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "failed to read body"))
			return
		}
		if !validSignature(secret, body, c.GetHeader(SignatureHeader)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(CodeUnauthorized, "invalid webhook signature"))
			return
		}
		c.Next()
	}
}
