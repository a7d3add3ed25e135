package router

import (
	"context"

	"resume-extractor/internal/api/handler"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
)

// RegisterRoutes 注册 API 路由。apiKeys 非空时 /api/v1 下的接口需要 Bearer 密钥，健康检查除外。
func RegisterRoutes(h *server.Hertz, resumeHandler *handler.ResumeHandler, schemaHandler *handler.SchemaHandler, apiKeys []string) {
	// 添加健康检查
	h.GET("/api/v1/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	api := h.Group("/api/v1")
	if len(apiKeys) > 0 {
		api.Use(APIKeyAuth(apiKeys))
	}

	api.POST("/resumes/upload", resumeHandler.HandleUpload)
	api.POST("/resumes/parse", resumeHandler.HandleParse)
	api.GET("/resumes/export", resumeHandler.HandleExport)
	api.GET("/resumes/:uuid", resumeHandler.HandleGetResult)

	api.POST("/schemas", schemaHandler.HandleCreate)
	api.GET("/schemas", schemaHandler.HandleList)
}

// APIKeyAuth 校验 Authorization: Bearer <key>
func APIKeyAuth(apiKeys []string) app.HandlerFunc {
	allowed := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		if k != "" {
			allowed[k] = struct{}{}
		}
	}
	return keyauth.New(
		keyauth.WithKeyLookUp("header:Authorization", "Bearer"),
		keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, key string) (bool, error) {
			_, ok := allowed[key]
			return ok, nil
		}),
		keyauth.WithErrorHandler(func(ctx context.Context, c *app.RequestContext, err error) {
			c.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{"error": "无效的 API 密钥"})
		}),
	)
}
