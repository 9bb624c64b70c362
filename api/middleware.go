package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasklane/domain"
)

const principalKey = "principal"

// Authenticator is implemented by types able to extract principals from headers.
type Authenticator interface {
	PrincipalFromAuthHeader(string) (domain.Principal, error)
}

// RequireAuth rejects unauthenticated requests and records the caller's
// contact details in the directory for reminders.
func RequireAuth(auth Authenticator, dir domain.Directory, logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, err := auth.PrincipalFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
			}
			if dir != nil {
				if err := dir.UpsertUser(c.Request().Context(), p); err != nil {
					logger.WithError(err).WithField("user", p.ID).Warn("record user contact")
				}
			}
			c.Set(principalKey, p)
			return next(c)
		}
	}
}

func principalFrom(c echo.Context) domain.Principal {
	p, _ := c.Get(principalKey).(domain.Principal)
	return p
}

// GzipRequestMiddleware decompresses gzip-encoded request bodies so handlers can
// work with plain JSON payloads. Requests with invalid gzip payloads are
// rejected with a 400 response.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}

			body := req.Body
			gr, err := gzip.NewReader(body)
			if err != nil {
				_ = body.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}

			req.Body = &gzipReadCloser{Reader: gr, body: body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)

			return next(c)
		}
	}
}

func hasGzipEncoding(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type gzipReadCloser struct {
	*gzip.Reader
	body io.Closer
}

func (g *gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.body.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
