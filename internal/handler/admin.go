package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/boxoffice/internal/model"
	"github.com/iliyamo/boxoffice/internal/service"
)

// AdminHandler triggers background jobs on demand, exposes ledger
// reconciliation and settles stuck withdrawals by hand.
type AdminHandler struct {
	Sweeper *service.Sweeper
	Ledger  *service.LedgerService
}

func NewAdminHandler(s *service.Sweeper, l *service.LedgerService) *AdminHandler {
	return &AdminHandler{Sweeper: s, Ledger: l}
}

// Sweep handles POST /v1/admin/sweep.
func (h *AdminHandler) Sweep(c echo.Context) error {
	n, err := h.Sweeper.SweepExpired(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"released": n})
}

// ReleaseDue handles POST /v1/admin/ledger/release?batch=N.
func (h *AdminHandler) ReleaseDue(c echo.Context) error {
	batch, _ := strconv.Atoi(c.QueryParam("batch"))
	n, err := h.Ledger.ReleaseDue(c.Request().Context(), batch)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"released": n})
}

// Reconcile handles GET /v1/admin/accounts/:id/reconcile.
func (h *AdminHandler) Reconcile(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	rep, err := h.Ledger.Reconcile(ctx, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}

type settleReq struct {
	TransferRef string `json:"transfer_ref"`
	Reason      string `json:"reason"`
}

// CompleteWithdrawal handles POST /v1/admin/withdrawals/:id/complete for a
// payout confirmed outside the provider webhook.
func (h *AdminHandler) CompleteWithdrawal(c echo.Context) error {
	var req settleReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.TransferRef = strings.TrimSpace(req.TransferRef)
	if req.TransferRef == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "transfer_ref is required"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	ok, err := h.Ledger.CompleteWithdrawal(ctx, c.Param("id"), req.TransferRef)
	return h.settled(c, ok, err)
}

// FailWithdrawal handles POST /v1/admin/withdrawals/:id/fail. The reserved
// amount goes back to the vendor's balance.
func (h *AdminHandler) FailWithdrawal(c echo.Context) error {
	var req settleReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "failed by admin"
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	ok, err := h.Ledger.FailWithdrawal(ctx, c.Param("id"), reason)
	return h.settled(c, ok, err)
}

func (h *AdminHandler) settled(c echo.Context, ok bool, err error) error {
	if err != nil {
		return writeError(c, err)
	}
	w, err := h.Ledger.GetWithdrawal(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	if !ok {
		return writeError(c, fmt.Errorf("withdrawal is %s: %w", w.Status, model.ErrInvalidTransition))
	}
	w.Bank = w.Bank.Masked()
	return c.JSON(http.StatusOK, w)
}
