package server

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"

	"github.com/kmarat/filedrop/internal/config"
	"github.com/kmarat/filedrop/internal/file"
	"github.com/kmarat/filedrop/internal/metrics"
)

// Dependencies groups the services required by the HTTP router.
type Dependencies struct {
	Config      config.Config
	DB          *pgxpool.Pool
	ObjectStore *minio.Client // nil when the disk backend is active
	FileService *file.Service
}

// NewRouter builds a Gin engine with foundational middleware and routes.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.Middleware())

	registerHealthRoutes(router, deps)
	metrics.Register(router, deps.Config.Metrics.PrometheusPath)

	if deps.FileService != nil {
		file.RegisterRoutes(router, deps.FileService, deps.Config.Server.PublicURL)
	}

	return router
}
