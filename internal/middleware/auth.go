package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"charity_ledger/internal/models"
)

const actorKey = "actor"

// TokenVerifier is the part of the Firebase auth client the middleware needs
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
	VerifySessionCookie(ctx context.Context, sessionCookie string) (*auth.Token, error)
}

// RequireAuth rejects requests without a valid Firebase ID token or session cookie and puts
// the caller's ledger identity in the context
func RequireAuth(verifier TokenVerifier, db *gorm.DB) echo.MiddlewareFunc {
	return authenticate(verifier, db, true)
}

// OptionalAuth identifies the caller when credentials are present; guests pass through
func OptionalAuth(verifier TokenVerifier, db *gorm.DB) echo.MiddlewareFunc {
	return authenticate(verifier, db, false)
}

func authenticate(verifier TokenVerifier, db *gorm.DB, required bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if verifier == nil || db == nil {
				if required {
					return echo.NewHTTPError(http.StatusServiceUnavailable, "Authentication is not configured")
				}
				return next(c)
			}

			token, err := verifyRequest(c, verifier)
			if err != nil {
				if required {
					return err
				}
				return next(c)
			}
			if token == nil {
				if required {
					return echo.NewHTTPError(http.StatusUnauthorized, "Please log in to continue.")
				}
				return next(c)
			}

			email, _ := token.Claims["email"].(string)
			name, _ := token.Claims["name"].(string)
			if email == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Token carries no email")
			}

			user, err := findOrCreateUser(c.Request().Context(), db, email, name)
			if err != nil {
				return err
			}

			c.Set("userUID", token.UID)
			c.Set("userEmail", email)
			c.Set("userName", name)
			c.Set(actorKey, user.Actor())
			return next(c)
		}
	}
}

// verifyRequest returns nil, nil when the request carries no credentials at all
func verifyRequest(c echo.Context, verifier TokenVerifier) (*auth.Token, error) {
	ctx := c.Request().Context()

	if header := c.Request().Header.Get(echo.HeaderAuthorization); header != "" {
		idToken := strings.TrimPrefix(header, "Bearer ")
		if idToken == header || idToken == "" {
			return nil, echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization format")
		}
		token, err := verifier.VerifyIDToken(ctx, idToken)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
		}
		return token, nil
	}

	cookie, err := c.Cookie("session")
	if err != nil || cookie.Value == "" {
		return nil, nil
	}
	token, err := verifier.VerifySessionCookie(ctx, cookie.Value)
	if err != nil {
		c.SetCookie(&http.Cookie{
			Name:     "session",
			Value:    "",
			MaxAge:   -1,
			HttpOnly: true,
			Path:     "/",
		})
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "Session expired")
	}
	return token, nil
}

// findOrCreateUser maps a verified email to a ledger user, registering first-time callers as donors
func findOrCreateUser(ctx context.Context, db *gorm.DB, email, name string) (*models.User, error) {
	var user models.User
	err := db.WithContext(ctx).Where("LOWER(email) = ?", strings.ToLower(email)).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user = models.User{Name: name, Email: email, UserType: models.UserTypeDonor}
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// ActorFrom returns the authenticated caller, if any
func ActorFrom(c echo.Context) (models.Actor, bool) {
	actor, ok := c.Get(actorKey).(models.Actor)
	return actor, ok
}

// SetActor stores the caller's identity; used by tests and trusted internal routes
func SetActor(c echo.Context, actor models.Actor) {
	c.Set(actorKey, actor)
}
