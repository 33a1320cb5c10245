package api

import (
	"github.com/gin-gonic/gin"

	"github.com/andrei/vidseek/internal/api/handler"
	"github.com/andrei/vidseek/internal/api/middleware"
	"github.com/andrei/vidseek/internal/index"
	"github.com/andrei/vidseek/internal/repository"
	"github.com/andrei/vidseek/internal/service"
)

// RouterConfig holds router options beyond the services themselves.
type RouterConfig struct {
	Mode      string
	CORS      middleware.CORSConfig
	StaticDir string // serve local-storage artifacts under /static when set
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	searchService *service.SearchService,
	ingestService *service.IngestService,
	videoRepo *repository.VideoRepository,
	idx *index.Flat,
	cfg *RouterConfig,
) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler(idx)
	searchHandler := handler.NewSearchHandler(searchService)
	videoHandler := handler.NewVideoHandler(ingestService, videoRepo, idx)

	r.GET("/health", healthHandler.Health)

	if cfg.StaticDir != "" {
		r.Static("/static", cfg.StaticDir)
	}

	v1 := r.Group("/api/v1")
	{
		v1.POST("/search", searchHandler.Search)
		v1.GET("/search", searchHandler.SearchGet)

		v1.POST("/ingest", videoHandler.Ingest)
		v1.GET("/videos", videoHandler.ListVideos)

		v1.GET("/stats", videoHandler.GetStats)
	}

	return r
}
