// Package server exposes the monetary core over HTTP. The API is an
// internal service surface: callers are trusted platform services that
// pass user ids explicitly, so there is no authentication layer here.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukerupert/gullveig/internal/domain"
	"github.com/dukerupert/gullveig/internal/ledger"
	"github.com/dukerupert/gullveig/internal/payments"
	"github.com/dukerupert/gullveig/internal/store"
	"github.com/dukerupert/gullveig/internal/subscription"
	"github.com/dukerupert/gullveig/internal/telemetry"
)

type Server struct {
	echo   *echo.Echo
	store  store.Store
	ledger ledger.Service
	subs   subscription.Service
	pay    payments.Service
	logger *slog.Logger
}

// requestValidator adapts go-playground/validator to echo's Validator
// interface.
type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return domain.Invalid("server.validate", err.Error())
	}
	return nil
}

func New(st store.Store, l ledger.Service, subs subscription.Service, pay payments.Service, logger *slog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{validate: validator.New()}

	s := &Server{
		echo:   e,
		store:  st,
		ledger: l,
		subs:   subs,
		pay:    pay,
		logger: logger,
	}
	e.HTTPErrorHandler = s.errorHandler
	e.Use(echomw.Recover())

	e.GET("/health", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group("/v1")
	v1.GET("/wallets/:uid", s.getWallet)
	v1.GET("/wallets/:uid/failing", s.getFailingCount)
	v1.POST("/deposits", s.createDeposit)
	v1.POST("/transfers", s.createTransfer)
	v1.POST("/purchases", s.createPurchase)
	v1.POST("/subscriptions", s.createSubscription)
	v1.GET("/subscriptions/:id", s.getSubscription)
	v1.GET("/subscriptions/:id/expiry", s.getSubscriptionExpiry)
	v1.DELETE("/subscriptions/:id", s.cancelSubscription)
	v1.POST("/payments/enable", s.enablePayments)
	v1.GET("/cards", s.listCards)
	v1.POST("/cards", s.addCard)
	v1.DELETE("/cards/:id", s.removeCard)
	v1.POST("/cards/:id/default", s.makeDefaultCard)

	return s
}

func (s *Server) Start(port uint16) error {
	return s.echo.Start(fmt.Sprintf(":%d", port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

// errorHandler maps domain error codes onto HTTP statuses. Internal
// errors are logged with detail but answered generically.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = c.JSON(he.Code, echo.Map{"error": fmt.Sprintf("%v", he.Message)})
		return
	}

	code := domain.ErrorCode(err)
	status := statusForCode(code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("method", c.Request().Method),
			slog.String("path", c.Path()),
			slog.String("error", err.Error()))
		telemetry.CaptureError(err, map[string]interface{}{
			"method": c.Request().Method,
			"path":   c.Path(),
		})
	}
	_ = c.JSON(status, echo.Map{
		"code":  code,
		"error": domain.ErrorMessage(err),
	})
}

func statusForCode(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.EPAYMENT:
		return http.StatusPaymentRequired
	case domain.EFORBIDDEN:
		return http.StatusForbidden
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.ECONFLICT, domain.ESTATE:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
