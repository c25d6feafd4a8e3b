package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册生成与进度查询路由。
func RegisterRoutes(router *gin.Engine, renderHandler *RenderHandler) {
	v1 := router.Group("/v1")
	{
		orders := v1.Group("/orders")
		{
			orders.POST("/:id/render", renderHandler.RenderOrder)
			orders.GET("/:id/progress", renderHandler.GetProgress)
		}

		bulk := v1.Group("/bulk")
		{
			bulk.POST("", renderHandler.StartBulk)
			bulk.GET("/:job_id", renderHandler.GetBulk)
		}
	}
}
