package api

import (
	_ "embed"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const DocPath = "/api-docs/openapi.yaml"

//go:embed openapi.yaml
var OpenAPI []byte

// RegisterRoutes: OpenAPI 文書と swagger UI（dev のみ呼ぶ）
func RegisterRoutes(r gin.IRoutes) {
	// GET /api-docs/openapi.yaml
	r.GET(DocPath, func(c *gin.Context) {
		c.Data(http.StatusOK, "application/yaml; charset=utf-8", OpenAPI)
	})
	// GET /swagger/index.html
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL(DocPath)))
}
