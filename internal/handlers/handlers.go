package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"picbed/api/internal/apperr"
	"picbed/api/internal/cache"
	"picbed/api/internal/config"
	"picbed/api/internal/middleware"
	"picbed/api/internal/repository"
	"picbed/api/internal/service"
	"picbed/api/internal/storage"
	"picbed/api/internal/token"
)

type HandlerSet struct {
	log          zerolog.Logger
	cfg          *config.AppConfig
	imageService *service.ImageService
	authService  *service.AuthService
	db           *pgxpool.Pool
	redis        *redis.Client
}

func NewHandlerSet(log zerolog.Logger, db *pgxpool.Pool, redisClient *redis.Client, store *storage.ObjectStore, cfg *config.AppConfig) HandlerSet {
	imageRepo := repository.NewImageRepository(db)
	keyRepo := repository.NewAccessKeyRepository(db)
	imageCache := cache.NewImageCache(redisClient, cfg.Cache)
	tokenManager := token.NewManager(token.NewRedisRegistry(redisClient), cfg.Security, log)

	images := service.NewImageService(imageRepo, store, imageCache, log)
	auth := service.NewAuthService(keyRepo, tokenManager, log)

	return HandlerSet{
		log:          log,
		cfg:          cfg,
		imageService: images,
		authService:  auth,
		db:           db,
		redis:        redisClient,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/token", h.IssueToken)
		auth.POST("/token/refresh", h.RefreshToken)

		protected := v1.Group("/auth")
		protected.Use(middleware.Auth(h.authService))
		protected.POST("/token/revoke", h.RevokeTokens)
		protected.POST("/keys", h.CreateAccessKey)
		protected.GET("/keys", h.ListAccessKeys)
	}

	// Retrieval by fingerprint is intentionally public; everything else on
	// the image surface requires a bearer token.
	v1.GET("/image/:fingerprint", h.GetImage)

	image := v1.Group("")
	image.Use(middleware.Auth(h.authService))
	image.POST("/image/upload", h.UploadImage)
	image.DELETE("/image/:fingerprint", h.DeleteImage)
	image.GET("/images", h.ListImages)
}

// ImageService exposes the image pipeline, for shutdown draining.
func (h HandlerSet) ImageService() *service.ImageService {
	return h.imageService
}

func (h HandlerSet) respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)

	event := h.log.Warn()
	if status >= 500 {
		event = h.log.Error()
	}
	event.Err(err).
		Str("kind", string(apperr.KindOf(err))).
		Str("path", c.Request.URL.Path).
		Msg("request failed")

	c.JSON(status, gin.H{
		"error":   apperr.CodeOf(err),
		"message": apperr.MessageOf(err),
	})
}
