package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
	"github.com/shinyyama/classifieds-messaging/internal/repository"
	"go.uber.org/zap"
)

// UserIDKey is the echo context key holding the authenticated user id (uint64).
const UserIDKey = "userID"

// Authenticator is an identity provider adapter: it resolves the caller and
// stores its user id under UserIDKey.
type Authenticator interface {
	RequireAuth(next echo.HandlerFunc) echo.HandlerFunc
}

type FirebaseAuth struct {
	authClient *auth.Client
	users      repository.UserRepository
	logger     *zap.Logger
}

func NewFirebaseAuth(ctx context.Context, projectID string, users repository.UserRepository, logger *zap.Logger) (*FirebaseAuth, error) {
	if projectID == "" {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "FIREBASE_PROJECT_ID is not set")
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, err
	}
	return &FirebaseAuth{authClient: client, users: users, logger: logger}, nil
}

func (m *FirebaseAuth) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authz := c.Request().Header.Get("Authorization")
		if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
			return c.JSON(http.StatusUnauthorized, errorBody("unauthorized", "missing bearer token"))
		}
		ctx := c.Request().Context()
		token, err := m.authClient.VerifyIDToken(ctx, strings.TrimPrefix(authz, "Bearer "))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorBody("invalid_token", "token verification failed"))
		}
		name, _ := token.Claims["name"].(string)
		var avatar *string
		if pic, _ := token.Claims["picture"].(string); pic != "" {
			avatar = &pic
		}
		u, err := m.users.FindOrCreateByFirebaseUID(ctx, token.UID, name, avatar)
		if err != nil {
			m.logger.Error("resolve user", zap.String("firebase_uid", token.UID), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, errorBody("internal_error", "failed to resolve user"))
		}
		c.Set(UserIDKey, u.ID)
		return next(c)
	}
}

// HeaderAuth trusts the X-User-ID header. Local development and tests only.
type HeaderAuth struct{}

func (HeaderAuth) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := c.Request().Header.Get("X-User-ID")
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			return c.JSON(http.StatusUnauthorized, errorBody("unauthorized", "missing or invalid X-User-ID"))
		}
		c.Set(UserIDKey, id)
		return next(c)
	}
}

func errorBody(code, message string) map[string]map[string]string {
	return map[string]map[string]string{"error": {"code": code, "message": message}}
}
