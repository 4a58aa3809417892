package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sudo-init-do/founderledger/internal/audit"
	"github.com/sudo-init-do/founderledger/internal/compliance"
	"github.com/sudo-init-do/founderledger/internal/ledger"
	mware "github.com/sudo-init-do/founderledger/internal/middleware"
	"github.com/sudo-init-do/founderledger/internal/withdrawal"
)

// Handler serves the HTTP API over the coordinator and the compliance gate.
type Handler struct {
	coord  *withdrawal.Coordinator
	gate   *compliance.Gate
	audit  *audit.Log
	ready  func(ctx context.Context) error
	logger *zap.Logger
}

type Options struct {
	// Ready is called by /ready; nil means always ready.
	Ready  func(ctx context.Context) error
	Logger *zap.Logger
}

func NewHandler(coord *withdrawal.Coordinator, gate *compliance.Gate, log *audit.Log, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Handler{coord: coord, gate: gate, audit: log, ready: opts.Ready, logger: opts.Logger}
}

// Register mounts every route on e.
func (h *Handler) Register(e *echo.Echo, jwtSecret []byte) {
	e.GET("/health", h.Health)
	e.GET("/ready", h.Ready)
	e.GET("/api/constitution", h.Constitution)
	e.GET("/api/token-info", h.TokenInfo)

	api := e.Group("/api")
	api.Use(mware.JWT(jwtSecret))

	api.GET("/founders", h.ListFounders)
	api.POST("/founders", h.RegisterFounder, mware.AdminGuard)
	api.GET("/founders/:id", h.GetFounder)
	api.POST("/founders/:id/withdraw", h.Withdraw, mware.SelfOrAdmin("id"))
	api.GET("/founders/:id/withdrawals", h.ListWithdrawals)
	api.GET("/founders/:id/reinvestments", h.ListReinvestments)
	api.GET("/reinvestment-options", h.ReinvestmentOptions)
	api.GET("/reinvestment-stats", h.ReinvestmentStats)
	api.GET("/projects/:id", h.GetProject)

	api.GET("/compliance/constitution", h.ConstitutionReport)
	api.GET("/compliance/:id", h.ComplianceStatus)
	api.POST("/compliance/:id/attest", h.Attest, mware.SelfOrAdmin("id"))
	api.POST("/compliance/:id/fica", h.RecordFica, mware.AdminGuard)
	api.POST("/compliance/:id/violations", h.RecordViolation, mware.AdminGuard)
	api.DELETE("/compliance/:id/violations", h.ClearViolations, mware.AdminGuard)

	api.GET("/withdrawal-stats", h.Stats)
	api.POST("/users", h.RegisterUser, mware.AdminGuard)
	api.POST("/users/withdraw", h.WithdrawUser, mware.RequireRoles(mware.RoleUser, mware.RoleAdmin))

	admin := e.Group("/admin")
	admin.Use(mware.JWT(jwtSecret))
	admin.Use(mware.AdminGuard)
	admin.GET("/audit", h.AuditLog)
	admin.GET("/audit/:founderId", h.FounderAudit)
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

func (h *Handler) Ready(c echo.Context) error {
	if h.ready != nil {
		if err := h.ready(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready", "error": "db unreachable"})
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrCapacityExceeded), errors.Is(err, ledger.ErrStaleConstitution):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientAllocation), errors.Is(err, ledger.ErrSplitViolation),
		errors.Is(err, ledger.ErrFicaVerificationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrCompliance), errors.Is(err, ledger.ErrUserWithdrawalsLocked):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrBankTransfer):
		return http.StatusBadGateway
	case errors.Is(err, ledger.ErrExchangeRate):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail writes err as {"error", "kind", "details"}. Unclassified errors are
// logged and hidden from the client.
func (h *Handler) fail(c echo.Context, err error, extra echo.Map) error {
	status := statusFor(err)
	body := echo.Map{"error": err.Error()}
	var le *ledger.Error
	if errors.As(err, &le) {
		body["kind"] = le.Kind.Error()
		if len(le.Details) > 0 {
			body["details"] = le.Details
		}
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		body = echo.Map{"error": "internal error"}
	}
	for k, v := range extra {
		body[k] = v
	}
	return c.JSON(status, body)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

func (h *Handler) appendAudit(c echo.Context, action, founderID string, payload any) {
	ctx := context.WithoutCancel(c.Request().Context())
	if _, err := h.audit.Append(ctx, action, founderID, payload); err != nil {
		h.logger.Error("audit append failed", zap.String("action", action), zap.Error(err))
	}
}
