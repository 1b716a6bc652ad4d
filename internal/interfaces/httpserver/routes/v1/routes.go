package v1

import (
	"github.com/gin-gonic/gin"

	"github.com/nbrain-team/vid/internal/interfaces/httpserver/handlers"
)

// Routes encapsulates versioned route registration.
type Routes struct {
	handlers *handlers.Provider
}

func NewRoutes(provider *handlers.Provider) *Routes {
	return &Routes{handlers: provider}
}

// Register attaches all v1 routes under /v1 prefix.
func (r *Routes) Register(router gin.IRouter) {
	group := router.Group("/v1")

	group.POST("/upload", r.handlers.Upload.Upload)
	group.POST("/upload/bulk", r.handlers.Upload.BulkUpload)
	group.GET("/upload/status/:id", r.handlers.Upload.Status)

	group.GET("/media", r.handlers.Media.List)
	group.GET("/media/:id", r.handlers.Media.Get)
	group.PUT("/media/:id", r.handlers.Media.Update)
	group.DELETE("/media/:id", r.handlers.Media.Delete)
	group.GET("/media/:id/presign", r.handlers.Media.Presign)

	group.GET("/search/keyword", r.handlers.Search.Keyword)
	group.POST("/search/semantic", r.handlers.Search.Semantic)
	group.GET("/search/tags", r.handlers.Search.Tags)
}
