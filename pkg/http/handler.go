package http

import "github.com/labstack/echo/v4"

// Handler is implemented by every API surface that mounts routes on the
// shared echo instance. The server iterates handlers at startup so route
// ownership stays with the package that serves them.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}
