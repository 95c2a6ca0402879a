package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/boxoffice/internal/model"
	"github.com/iliyamo/boxoffice/internal/service"
)

// WalletHandler serves a vendor's ledger account and withdrawals.
type WalletHandler struct {
	Ledger *service.LedgerService
}

func NewWalletHandler(l *service.LedgerService) *WalletHandler {
	return &WalletHandler{Ledger: l}
}

// Wallet handles GET /v1/vendor/wallet. A vendor without sales yet sees an
// empty account.
func (h *WalletHandler) Wallet(c echo.Context) error {
	ownerID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	a, err := h.Ledger.Account(ctx, ownerID)
	if errors.Is(err, model.ErrNotFound) {
		return c.JSON(http.StatusOK, model.LedgerAccount{OwnerID: ownerID})
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

// Entries handles GET /v1/vendor/wallet/entries.
func (h *WalletHandler) Entries(c echo.Context) error {
	ownerID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	limit, offset := paging(c)
	ctx, cancel := reqCtx(c)
	defer cancel()

	es, err := h.Ledger.Entries(ctx, ownerID, limit, offset)
	if errors.Is(err, model.ErrNotFound) {
		es, err = []model.LedgerEntry{}, nil
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": es, "limit": limit, "offset": offset})
}

type withdrawalReq struct {
	Amount int64             `json:"amount"` // minor units
	Bank   model.BankDetails `json:"bank"`
}

// RequestWithdrawal handles POST /v1/vendor/withdrawals.
func (h *WalletHandler) RequestWithdrawal(c echo.Context) error {
	ownerID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req withdrawalReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	w, err := h.Ledger.RequestWithdrawal(ctx, ownerID, req.Amount, req.Bank)
	if err != nil {
		return writeError(c, err)
	}
	w.Bank = w.Bank.Masked()
	return c.JSON(http.StatusAccepted, w)
}

// ListWithdrawals handles GET /v1/vendor/withdrawals.
func (h *WalletHandler) ListWithdrawals(c echo.Context) error {
	ownerID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	limit, offset := paging(c)
	ctx, cancel := reqCtx(c)
	defer cancel()

	ws, err := h.Ledger.Withdrawals(ctx, ownerID, limit, offset)
	if errors.Is(err, model.ErrNotFound) {
		ws, err = []model.WithdrawalRequest{}, nil
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": ws, "limit": limit, "offset": offset})
}

// CancelWithdrawal handles POST /v1/vendor/withdrawals/:id/cancel.
func (h *WalletHandler) CancelWithdrawal(c echo.Context) error {
	ownerID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Ledger.CancelWithdrawal(ctx, ownerID, c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
