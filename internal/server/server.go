package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/shinyyama/classifieds-messaging/internal/config"
	"github.com/shinyyama/classifieds-messaging/internal/handler"
	appmw "github.com/shinyyama/classifieds-messaging/internal/middleware"
	"github.com/shinyyama/classifieds-messaging/internal/repository"
	"github.com/shinyyama/classifieds-messaging/internal/service"
	"github.com/shinyyama/classifieds-messaging/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type dbSetter interface {
	SetDB(db *gorm.DB)
}

type Server struct {
	e       *echo.Echo
	setters []dbSetter
	logger  *zap.Logger
}

// New wires repositories, services and routes. db may be nil; requests then
// fail with 500 until SetDB is called.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, thumbnails storage.ThumbnailResolver, logger *zap.Logger) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(appmw.RequestID())
	e.Use(appmw.RequestLogger(logger))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization", "X-User-ID"},
		AllowCredentials: true,
		AllowOriginFunc:  allowOrigin(cfg.AllowedOriginSuffix),
	}))

	tx := repository.NewTransactor(db)
	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	listingRepo := repository.NewListingRepository(db)
	userRepo := repository.NewUserRepository(db)

	convSvc := service.NewConversationService(convRepo, listingRepo, userRepo, thumbnails, logger)
	msgSvc := service.NewMessageService(tx, msgRepo, convSvc, cfg.MessageMaxLength)
	unread := service.NewUnreadCounter(msgRepo, convSvc)
	inbox := service.NewInboxService(convRepo, msgRepo, listingRepo, userRepo, unread, thumbnails, logger)
	threads := service.NewThreadService(convSvc, msgSvc)
	convHandler := handler.NewConversationHandler(convSvc, msgSvc, unread, inbox, threads, logger)

	var auth appmw.Authenticator
	switch cfg.AuthMode {
	case config.AuthModeHeader:
		logger.Warn("AUTH_MODE=header trusts X-User-ID; do not use in production")
		auth = appmw.HeaderAuth{}
	default:
		fb, err := appmw.NewFirebaseAuth(ctx, cfg.FirebaseProjectID, userRepo, logger)
		if err != nil {
			return nil, err
		}
		auth = fb
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"ok":         "true",
			"git_sha":    cfg.GitSHA,
			"build_time": cfg.BuildTime,
		})
	})

	api := e.Group("/api", auth.RequireAuth)
	api.GET("/conversations", convHandler.List)
	api.POST("/conversations", convHandler.Start)
	api.POST("/listings/:id/conversations", convHandler.ContactListing)
	api.GET("/conversations/:id", convHandler.Get)
	api.GET("/conversations/:id/messages", convHandler.ListMessages)
	api.POST("/conversations/:id/messages", convHandler.CreateMessage)
	api.POST("/conversations/:id/read", convHandler.MarkRead)
	api.GET("/conversations/:id/unread", convHandler.Unread)
	api.GET("/me/unread", convHandler.MyUnread)

	return &Server{
		e:       e,
		setters: []dbSetter{tx, convRepo, msgRepo, listingRepo, userRepo},
		logger:  logger,
	}, nil
}

func allowOrigin(suffix string) func(origin string) (bool, error) {
	return func(origin string) (bool, error) {
		low := strings.ToLower(origin)
		if strings.HasPrefix(low, "http://localhost:") || strings.HasPrefix(low, "http://127.0.0.1:") ||
			strings.HasPrefix(low, "https://localhost:") || strings.HasPrefix(low, "https://127.0.0.1:") {
			return true, nil
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false, nil
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return false, nil
		}
		if suffix != "" && strings.HasSuffix(u.Hostname(), suffix) {
			return true, nil
		}
		return false, nil
	}
}

// Handler exposes the router for tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.e
}

func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// SetDB injects a database connection established after startup.
func (s *Server) SetDB(db *gorm.DB) {
	for _, setter := range s.setters {
		setter.SetDB(db)
	}
}
