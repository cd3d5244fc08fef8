package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowOrigins []string
	AllowMethods []string
	AllowHeaders []string
}

// CORS allows dashboard frontends on other origins to call the API. Method
// and header grants only go on preflight responses; every response carries
// Vary: Origin so shared caches keep per-origin copies apart.
func CORS(cfg CORSConfig) echo.MiddlewareFunc {
	allowMethods := strings.Join(cfg.AllowMethods, ", ")
	allowHeaders := strings.Join(cfg.AllowHeaders, ", ")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			res := c.Response().Header()
			res.Add("Vary", "Origin")

			origin := c.Request().Header.Get("Origin")
			if origin == "" {
				return next(c)
			}

			if !originAllowed(cfg.AllowOrigins, origin) {
				return next(c)
			}
			res.Set("Access-Control-Allow-Origin", origin)

			if c.Request().Method == http.MethodOptions {
				if allowMethods != "" {
					res.Set("Access-Control-Allow-Methods", allowMethods)
				}
				if allowHeaders != "" {
					res.Set("Access-Control-Allow-Headers", allowHeaders)
				}
				res.Set("Access-Control-Max-Age", "600")
				return c.NoContent(http.StatusNoContent)
			}

			return next(c)
		}
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
