package server

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"

	"github.com/loftdrive/loft/internal/auth"
	"github.com/loftdrive/loft/internal/bucket"
	"github.com/loftdrive/loft/internal/config"
	"github.com/loftdrive/loft/internal/event"
	"github.com/loftdrive/loft/internal/file"
	"github.com/loftdrive/loft/internal/logger"
	"github.com/loftdrive/loft/internal/metrics"
	"github.com/loftdrive/loft/internal/quota"
)

// Dependencies groups the services required by the HTTP router.
type Dependencies struct {
	Config        config.Config
	Log           *zap.Logger
	DB            *pgxpool.Pool
	ObjectStore   *minio.Client
	AuthService   *auth.Service
	BucketService *bucket.Service
	FileService   *file.Service
	Ledger        *quota.Ledger
	Events        *event.Hub
}

// NewRouter builds a Gin engine with foundational middleware and routes.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.Middleware())

	registerHealthRoutes(router, deps)
	metrics.Register(router, deps.Config.Metrics.PrometheusPath)

	api := router.Group("/v1")
	auth.RegisterRoutes(api, deps.AuthService)

	protected := api.Group("/")
	protected.Use(auth.Middleware(deps.AuthService))

	auth.RegisterAccountRoutes(protected, deps.AuthService)
	bucket.RegisterRoutes(protected, deps.BucketService)
	file.RegisterRoutes(protected, deps.FileService, deps.BucketService)
	quota.RegisterRoutes(protected, deps.Ledger)
	protected.GET("/events", event.SocketHandler(deps.Events, deps.Log))

	return router
}
