package recordstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/tupa/internal/apperr"
	"github.com/tupa/internal/logging"
)

// DevServerOptions configures the dev record store server
type DevServerOptions struct {
	Port      int
	APIKey    string
	JWTSecret string
}

// DevServer serves a Store over the same REST dialect RESTStore speaks
type DevServer struct {
	echo   *echo.Echo
	store  Store
	opts   DevServerOptions
	logger zerolog.Logger
}

// NewDevServer creates the server and its routes
func NewDevServer(store Store, opts DevServerOptions, logger zerolog.Logger) *DevServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &DevServer{
		echo:   e,
		store:  store,
		opts:   opts,
		logger: logging.Component(logger, "devstore"),
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, e.g. for httptest
func (s *DevServer) Handler() http.Handler { return s.echo }

func (s *DevServer) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	tables := s.echo.Group("", s.authenticate)
	tables.GET("/:table", s.selectRows)
	tables.POST("/:table", s.insertRow)
	tables.PATCH("/:table", s.updateRow)
	tables.DELETE("/:table", s.deleteRow)
}

// Start serves until ctx is cancelled
func (s *DevServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Int("port", s.opts.Port).Msg("Dev record store listening")
		if err := s.echo.Start(fmt.Sprintf(":%d", s.opts.Port)); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

func (s *DevServer) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.opts.APIKey == "" {
			return next(c)
		}
		if c.Request().Header.Get("apikey") != s.opts.APIKey {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
		}
		token := strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
		if s.opts.JWTSecret == "" {
			if token != s.opts.APIKey {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid bearer token")
			}
			return next(c)
		}

		claims := &jwt.RegisteredClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(s.opts.JWTSecret), nil
		})
		if err != nil || !parsed.Valid {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid bearer token")
		}
		c.Set("subject", claims.Subject)
		return next(c)
	}
}

// ParseQuery decodes PostgREST-style parameters
func ParseQuery(params url.Values) (Query, error) {
	var q Query
	for key, values := range params {
		switch key {
		case "select":
		case "order":
			orderSpec := values[0]
			col, dir, _ := strings.Cut(orderSpec, ".")
			q.OrderBy = col
			switch dir {
			case "", "asc":
			case "desc":
				q.Descending = true
			default:
				return Query{}, fmt.Errorf("invalid order %q", orderSpec)
			}
		case "limit":
			n, err := strconv.Atoi(values[0])
			if err != nil {
				return Query{}, fmt.Errorf("invalid limit %q", values[0])
			}
			q.Limit = n
		default:
			for _, v := range values {
				value, ok := strings.CutPrefix(v, "eq.")
				if !ok {
					return Query{}, fmt.Errorf("unsupported filter %s=%s", key, v)
				}
				q.Filters = append(q.Filters, Filter{Field: key, Value: value})
			}
		}
	}
	return q, validQuery(q)
}

func (s *DevServer) selectRows(c echo.Context) error {
	q, err := ParseQuery(c.QueryParams())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rows, err := s.store.Table(c.Param("table")).Select(c.Request().Context(), q)
	if err != nil {
		return s.fail(c, err)
	}
	if rows == nil {
		rows = []Row{}
	}
	return c.JSON(http.StatusOK, rows)
}

func (s *DevServer) insertRow(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}
	row, err := s.store.Table(c.Param("table")).Insert(c.Request().Context(), Row(body))
	if err != nil {
		return s.fail(c, err)
	}
	s.logger.Debug().Str("table", c.Param("table")).Str("id", rowID(row)).Msg("Inserted row")
	return c.JSON(http.StatusCreated, []Row{row})
}

func (s *DevServer) updateRow(c echo.Context) error {
	id, ok := strings.CutPrefix(c.QueryParam("id"), "eq.")
	if !ok || id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "id=eq.<id> is required")
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}
	row, err := s.store.Table(c.Param("table")).Update(c.Request().Context(), id, Row(body))
	if errors.Is(err, apperr.ErrNotFound) {
		return c.JSON(http.StatusOK, []Row{})
	}
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, []Row{row})
}

func (s *DevServer) deleteRow(c echo.Context) error {
	id, ok := strings.CutPrefix(c.QueryParam("id"), "eq.")
	if !ok || id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "id=eq.<id> is required")
	}
	table := s.store.Table(c.Param("table"))
	existing, err := table.Select(c.Request().Context(), Eq("id", id))
	if err != nil {
		return s.fail(c, err)
	}
	if err := table.Delete(c.Request().Context(), id); errors.Is(err, apperr.ErrNotFound) {
		return c.JSON(http.StatusOK, []Row{})
	} else if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, existing)
}

func (s *DevServer) fail(c echo.Context, err error) error {
	s.logger.Warn().Err(err).Str("table", c.Param("table")).Msg("Request failed")
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}
