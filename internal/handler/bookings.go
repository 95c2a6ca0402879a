package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/boxoffice/internal/model"
	"github.com/iliyamo/boxoffice/internal/service"
)

// BookingHandler serves seat bookings and media purchases.
type BookingHandler struct {
	Bookings *service.BookingService
}

func NewBookingHandler(b *service.BookingService) *BookingHandler {
	return &BookingHandler{Bookings: b}
}

type seatBookingReq struct {
	Units    []string `json:"units"`
	Amount   int64    `json:"amount,omitempty"`
	Currency string   `json:"currency,omitempty"`
}

// bookingView adds the seat projection to a booking.
type bookingView struct {
	model.Booking
	SeatStatus string `json:"seat_status,omitempty"`
}

func viewOf(b model.Booking) bookingView {
	return bookingView{Booking: b, SeatStatus: b.SeatStatus()}
}

func viewsOf(bs []model.Booking) []bookingView {
	out := make([]bookingView, len(bs))
	for i, b := range bs {
		out[i] = viewOf(b)
	}
	return out
}

// CreateSeatBooking handles POST /v1/pools/:id/bookings. The response
// carries gateway_ref, which the client passes to the payment gateway.
func (h *BookingHandler) CreateSeatBooking(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req seatBookingReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if len(req.Units) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "units is required"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	b, err := h.Bookings.CreateSeatBooking(ctx, service.SeatBookingInput{
		UserID:   userID,
		PoolID:   c.Param("id"),
		Units:    req.Units,
		Amount:   req.Amount,
		Currency: req.Currency,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, viewOf(b))
}

type mediaPurchaseReq struct {
	VendorID     string `json:"vendor_id"`
	MediaRef     string `json:"media_ref"`
	PurchaseType string `json:"purchase_type"` // buy | rent
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// CreateMediaPurchase handles POST /v1/media/purchases.
func (h *BookingHandler) CreateMediaPurchase(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req mediaPurchaseReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	b, err := h.Bookings.CreateMediaPurchase(ctx, service.MediaPurchaseInput{
		UserID:       userID,
		VendorID:     req.VendorID,
		MediaRef:     req.MediaRef,
		PurchaseType: model.PurchaseType(req.PurchaseType),
		Amount:       req.Amount,
		Currency:     req.Currency,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, viewOf(b))
}

// ListMine handles GET /v1/bookings.
func (h *BookingHandler) ListMine(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	limit, offset := paging(c)
	ctx, cancel := reqCtx(c)
	defer cancel()

	bs, err := h.Bookings.ListForUser(ctx, userID, limit, offset)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": viewsOf(bs), "limit": limit, "offset": offset})
}

// Get handles GET /v1/bookings/:id. Other users' bookings are reported as
// not found.
func (h *BookingHandler) Get(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	b, err := h.Bookings.GetForUser(ctx, userID, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(b))
}

// Cancel handles POST /v1/bookings/:id/cancel.
func (h *BookingHandler) Cancel(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	b, err := h.Bookings.Cancel(ctx, userID, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(b))
}

// MediaAccess handles GET /v1/media/:ref/access.
func (h *BookingHandler) MediaAccess(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	ok, grant, err := h.Bookings.HasAccess(ctx, userID, c.Param("ref"))
	if err != nil {
		return writeError(c, err)
	}
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"access": false})
	}
	resp := echo.Map{"access": true, "booking_id": grant.ID, "purchase_type": grant.PurchaseType}
	if grant.AccessExpiresAt != nil {
		resp["expires_at"] = grant.AccessExpiresAt
	}
	return c.JSON(http.StatusOK, resp)
}

// ListVendor handles GET /v1/vendor/bookings.
func (h *BookingHandler) ListVendor(c echo.Context) error {
	vendorID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	limit, offset := paging(c)
	ctx, cancel := reqCtx(c)
	defer cancel()

	bs, err := h.Bookings.ListForVendor(ctx, vendorID, limit, offset)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": viewsOf(bs), "limit": limit, "offset": offset})
}
