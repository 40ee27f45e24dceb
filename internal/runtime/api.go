package runtime

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/tenantbus/internal/domain"
	"github.com/drblury/tenantbus/internal/registry"
	errspkg "github.com/drblury/tenantbus/internal/runtime/errors"
	jsonpkg "github.com/drblury/tenantbus/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/tenantbus/internal/runtime/logging"
	"github.com/drblury/tenantbus/internal/security"
)

// API exposes the admin and publish endpoints, mostly for tests and for
// embedding into another server.
func (s *Service) API() http.Handler {
	return s.api
}

func (s *Service) newAPI() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	if len(s.Conf.CORSAllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.Conf.CORSAllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderContentType, security.HeaderOkapiURL, security.HeaderTenant, security.HeaderToken},
		}))
	}

	e.GET("/health", s.handleHealth)
	if s.Conf.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	g := e.Group("/pubsub")
	g.POST("/publish", s.handlePublish)
	g.POST("/modules", s.handleRegisterModule)
	g.GET("/modules", s.handleListModules)
	g.DELETE("/modules/:moduleId", s.handleUnregisterModule)
	g.GET("/consumers", s.handleConsumers)
	g.GET("/stats", s.handleStats)
	g.GET("/audit", s.handleAudit)
	g.POST("/tenants/init", s.handleInitTenant)
	return e
}

func (s *Service) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"consumers":   len(s.Consumers()),
		"global_load": s.GlobalLoad(),
	})
}

func (s *Service) handlePublish(c echo.Context) error {
	var ev domain.Event
	if err := c.Bind(&ev); err != nil {
		return err
	}
	params := security.ParamsFromHeaders(c.Request().Header)
	if ev.EventMetadata.TenantID == "" {
		ev.EventMetadata.TenantID = params.TenantID
	}

	published, err := s.Publish(c.Request().Context(), ev, params)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]string{"id": published.ID})
}

func (s *Service) handleRegisterModule(c echo.Context) error {
	var d registry.Descriptor
	if strings.Contains(c.Request().Header.Get(echo.HeaderContentType), "yaml") {
		var err error
		if d, err = registry.LoadDescriptor(c.Request().Body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
		}
	} else if err := c.Bind(&d); err != nil {
		return err
	}
	if d.TenantID == "" {
		d.TenantID = c.Request().Header.Get(security.HeaderTenant)
	}

	reg, err := s.RegisterModule(c.Request().Context(), d)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, reg)
}

func (s *Service) handleUnregisterModule(c echo.Context) error {
	role, err := domain.ParseRole(c.QueryParam("role"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	tenant := c.QueryParam("tenantId")
	if tenant == "" {
		tenant = c.Request().Header.Get(security.HeaderTenant)
	}
	if err := s.UnregisterModule(c.Request().Context(), tenant, c.Param("moduleId"), role); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Service) handleListModules(c echo.Context) error {
	filter := domain.ModuleFilter{
		TenantID:  c.QueryParam("tenantId"),
		EventType: c.QueryParam("eventType"),
		ModuleID:  c.QueryParam("moduleId"),
	}
	if raw := c.QueryParam("role"); raw != "" {
		role, err := domain.ParseRole(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		filter.Role = role
	}
	if raw := c.QueryParam("activated"); raw != "" {
		activated, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid activated value %q", raw))
		}
		filter.Activated = domain.Bool(activated)
	}

	modules, err := s.Modules(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	if modules == nil {
		modules = []domain.MessagingModule{}
	}
	return c.JSON(http.StatusOK, modules)
}

func (s *Service) handleConsumers(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Consumers())
}

func (s *Service) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.metrics.Snapshot())
}

func (s *Service) handleAudit(c echo.Context) error {
	filter := domain.AuditFilter{
		TenantID: c.QueryParam("tenantId"),
		EventID:  c.QueryParam("eventId"),
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
		}
		filter.Limit = limit
	}

	msgs, err := s.AuditMessages(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	if msgs == nil {
		msgs = []domain.AuditMessage{}
	}
	return c.JSON(http.StatusOK, msgs)
}

func (s *Service) handleInitTenant(c echo.Context) error {
	params := security.ParamsFromHeaders(c.Request().Header)
	if err := s.InitTenant(c.Request().Context(), params); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// handleError maps broker errors onto status codes and answers with a JSON body.
func (s *Service) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := statusFor(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprint(he.Message)
	}
	if status >= http.StatusInternalServerError {
		s.Logger.Error("Request failed", err, loggingpkg.LogFields{
			"method": c.Request().Method,
			"path":   c.Path(),
		})
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, map[string]string{"error": msg})
	}
	if err != nil {
		s.Logger.Error("Writing error response failed", err, nil)
	}
}

func statusFor(err error) int {
	var (
		he  *echo.HTTPError
		ve  *domain.ValidationError
		sec *security.StatusError
		le  *security.LoginError
	)
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.As(err, &ve),
		errors.Is(err, errspkg.ErrPublisherNotRegistered),
		errors.Is(err, errspkg.ErrNoSubscribers),
		errors.Is(err, errspkg.ErrEventExpired):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuditUnavailable):
		return http.StatusNotImplemented
	case errors.As(err, &sec), errors.As(err, &le):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// jsonSerializer lets echo encode and decode with the broker's JSON codec.
type jsonSerializer struct{}

func (jsonSerializer) Serialize(c echo.Context, i any, _ string) error {
	return jsonpkg.Encode(c.Response(), i)
}

func (jsonSerializer) Deserialize(c echo.Context, i any) error {
	if err := jsonpkg.Decode(c.Request().Body, i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body: "+err.Error()).SetInternal(err)
	}
	return nil
}
