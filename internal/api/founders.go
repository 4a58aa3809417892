package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/founderledger/internal/ledger"
	mware "github.com/sudo-init-do/founderledger/internal/middleware"
	"github.com/sudo-init-do/founderledger/internal/withdrawal"
)

// ListFounders returns every founder's allocation summary.
func (h *Handler) ListFounders(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"founders": h.coord.Stats().Founders})
}

// GetFounder returns one founder with the remaining allocation priced in ZAR.
func (h *Handler) GetFounder(c echo.Context) error {
	v, err := h.coord.FounderValue(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) RegisterFounder(c echo.Context) error {
	var spec ledger.FounderSpec
	if err := c.Bind(&spec); err != nil {
		return badRequest(c, "invalid request body")
	}
	f, err := h.coord.RegisterFounder(c.Request().Context(), spec)
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusCreated, f)
}

type withdrawBody struct {
	Type          ledger.WithdrawalType `json:"type"`
	Amount        int64                 `json:"amount"`
	Personal      int64                 `json:"personal"`
	Reinvestment  int64                 `json:"reinvestment"`
	BankAccountID string                `json:"bank_account_id"`
	Projects      []string              `json:"projects"`
	Reference     string                `json:"reference"`
}

// Withdraw runs a founder withdrawal. Approval for founders under a policy
// exception comes from an admin token.
func (h *Handler) Withdraw(c echo.Context) error {
	var body withdrawBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	req := withdrawal.Request{
		FounderID:     c.Param("id"),
		Type:          body.Type,
		Amount:        body.Amount,
		Personal:      body.Personal,
		Reinvestment:  body.Reinvestment,
		BankAccountID: body.BankAccountID,
		Projects:      body.Projects,
		Reference:     body.Reference,
	}
	if role, _ := c.Get("role").(string); role == mware.RoleAdmin {
		req.ApprovedBy, _ = c.Get("user_id").(string)
	}

	res, err := h.coord.Withdraw(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err, echo.Map{"result": res})
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ListWithdrawals(c echo.Context) error {
	ws, err := h.coord.Withdrawals(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err, nil)
	}
	if ws == nil {
		ws = []withdrawal.Withdrawal{}
	}
	return c.JSON(http.StatusOK, echo.Map{"withdrawals": ws})
}

func (h *Handler) ListReinvestments(c echo.Context) error {
	rs, err := h.coord.Reinvestments(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err, nil)
	}
	if rs == nil {
		rs = []withdrawal.Reinvestment{}
	}
	return c.JSON(http.StatusOK, echo.Map{"reinvestments": rs})
}

func (h *Handler) ReinvestmentOptions(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"projects": h.coord.Projects()})
}

func (h *Handler) GetProject(c echo.Context) error {
	d, err := h.coord.ProjectDetail(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ReinvestmentStats(c echo.Context) error {
	s, err := h.coord.ReinvestmentStats(c.Request().Context())
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.coord.Stats())
}

// TokenInfo is the public view of the global ledger.
func (h *Handler) TokenInfo(c echo.Context) error {
	s := h.coord.Stats()
	return c.JSON(http.StatusOK, echo.Map{
		"symbol":                   "AZR",
		"token_value_usd":          s.TokenValueUSD,
		"totals":                   s.Totals,
		"circulating_percent":      s.CirculatingPercent,
		"user_withdrawals_enabled": s.UserWithdrawalsEnabled,
	})
}

type registerUserBody struct {
	ID         string `json:"id"`
	Allocation int64  `json:"allocation"`
}

func (h *Handler) RegisterUser(c echo.Context) error {
	var body registerUserBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	u, err := h.coord.RegisterUser(c.Request().Context(), body.ID, body.Allocation)
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusCreated, u)
}

type userWithdrawBody struct {
	UserID        string `json:"user_id"`
	Amount        int64  `json:"amount"`
	WalletAddress string `json:"wallet_address"`
}

// WithdrawUser withdraws for the token's user. Admins may name any user.
func (h *Handler) WithdrawUser(c echo.Context) error {
	var body userWithdrawBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	userID, _ := c.Get("user_id").(string)
	if role, _ := c.Get("role").(string); role == mware.RoleAdmin && body.UserID != "" {
		userID = body.UserID
	}
	w, err := h.coord.WithdrawUser(c.Request().Context(), userID, body.Amount, body.WalletAddress)
	if err != nil {
		return h.fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, w)
}
