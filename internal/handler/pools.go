package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/boxoffice/internal/model"
	"github.com/iliyamo/boxoffice/internal/service"
)

// PoolHandler serves inventory pools to vendors and their availability to
// everyone.
type PoolHandler struct {
	Inventory *service.InventoryService
}

func NewPoolHandler(inv *service.InventoryService) *PoolHandler {
	return &PoolHandler{Inventory: inv}
}

type createPoolReq struct {
	Kind      string     `json:"kind"` // showtime | event
	Ref       string     `json:"ref"`
	Title     string     `json:"title"`
	StartsAt  *time.Time `json:"starts_at"`
	Currency  string     `json:"currency"`
	UnitPrice int64      `json:"unit_price"` // minor units
	Total     int        `json:"total"`
	Units     []string   `json:"units"`
}

// CreatePool handles POST /v1/vendor/pools.
func (h *PoolHandler) CreatePool(c echo.Context) error {
	vendorID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req createPoolReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	p, err := h.Inventory.CreatePool(ctx, service.CreatePoolInput{
		VendorID:  vendorID,
		Kind:      model.PoolKind(req.Kind),
		Ref:       req.Ref,
		Title:     req.Title,
		StartsAt:  req.StartsAt,
		Currency:  req.Currency,
		UnitPrice: req.UnitPrice,
		Total:     req.Total,
		Units:     req.Units,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}

// ListVendorPools handles GET /v1/vendor/pools.
func (h *PoolHandler) ListVendorPools(c echo.Context) error {
	vendorID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	pools, err := h.Inventory.ListPools(ctx, vendorID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": pools})
}

// DeactivatePool handles DELETE /v1/vendor/pools/:id. Pools are never
// deleted; they stop accepting holds.
func (h *PoolHandler) DeactivatePool(c echo.Context) error {
	vendorID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Inventory.DeactivatePool(ctx, vendorID, c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Availability handles GET /v1/pools/:id/availability.
func (h *PoolHandler) Availability(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	a, err := h.Inventory.Availability(ctx, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}
