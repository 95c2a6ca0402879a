package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/boxoffice/internal/model"
	"github.com/iliyamo/boxoffice/internal/service"
)

const maxWebhookBody = 1 << 20

// WebhookHandler receives payment and payout callbacks.
type WebhookHandler struct {
	Payments *service.PaymentService
}

func NewWebhookHandler(p *service.PaymentService) *WebhookHandler {
	return &WebhookHandler{Payments: p}
}

// Receive handles POST /v1/webhooks/:gateway. Signatures are checked over
// the raw body, so it is read before any binding. Everything that was
// verified is acknowledged with 200, including duplicates and unknown
// references, so the gateway stops redelivering.
func (h *WebhookHandler) Receive(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	res, err := h.Payments.Ingest(ctx, c.Param("gateway"), c.Request().Header, body)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"status": res})
	case errors.Is(err, model.ErrInvalidSignature):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid signature"})
	case errors.Is(err, model.ErrInvalidInput):
		// Verified but not something we act on.
		return c.JSON(http.StatusOK, echo.Map{"status": service.ResultIgnored})
	}
	return writeError(c, err)
}
