// Package api exposes the live task view and the task mutations over HTTP.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"verdantdo/gateway"
	"verdantdo/identity"
	"verdantdo/livequery"
)

const postBodyMaxSize = 64 << 10

// Store is the realtime document store seen by the HTTP layer.
type Store interface {
	livequery.Source
	gateway.Writer
}

// Register wires up all routes on the provided Echo instance.
func Register(e *echo.Echo, store Store, verifier identity.Verifier, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	e.GET("/api/stream", streamView(store, verifier, logger))
	e.GET("/api/ws", websocketView(store, verifier, logger))
	e.POST("/api/tasks", postTask(store, verifier, logger))
	e.PATCH("/api/tasks/:id", patchTask(store, verifier, logger))
	e.DELETE("/api/tasks/:id", deleteTask(store, verifier, logger))
	e.POST("/api/categories", postCategory(store, verifier, logger))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// credential returns the bearer token from the Authorization header or, for
// EventSource and WebSocket clients that cannot set headers, the token query
// parameter.
func credential(c echo.Context) (string, error) {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
		return identity.BearerToken(h)
	}
	return c.QueryParam("token"), nil
}

func authenticate(c echo.Context, verifier identity.Verifier) (identity.User, error) {
	token, err := credential(c)
	if err != nil {
		return identity.User{}, err
	}
	if token == "" {
		return identity.User{}, identity.ErrMissingCredential
	}
	return verifier.Verify(token)
}
