package gateway

import (
	"crypto/hmac"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/iliyamo/boxoffice/internal/model"
)

// CashfreeVerifier checks x-webhook-signature, the base64 HMAC-SHA256 of
// x-webhook-timestamp followed by the raw body. Cashfree sends amounts in
// major units; the order id is the booking reference.
type CashfreeVerifier struct {
	Secret string
}

func (CashfreeVerifier) Name() string { return Cashfree }

type cashfreePayload struct {
	Type string `json:"type"`
	Data struct {
		Order struct {
			OrderID       string      `json:"order_id"`
			OrderAmount   json.Number `json:"order_amount"`
			OrderCurrency string      `json:"order_currency"`
		} `json:"order"`
		Payment struct {
			CFPaymentID   json.Number `json:"cf_payment_id"`
			PaymentAmount json.Number `json:"payment_amount"`
			PaymentStatus string      `json:"payment_status"`
			PaymentMsg    string      `json:"payment_message"`
		} `json:"payment"`
		Refund struct {
			CFRefundID   string      `json:"cf_refund_id"`
			OrderID      string      `json:"order_id"`
			RefundAmount json.Number `json:"refund_amount"`
			Currency     string      `json:"refund_currency"`
			RefundStatus string      `json:"refund_status"`
		} `json:"refund"`
		Transfer struct {
			TransferID string      `json:"transfer_id"`
			Amount     json.Number `json:"transfer_amount"`
			Reason     string      `json:"reason"`
		} `json:"transfer"`
	} `json:"data"`
}

func (v CashfreeVerifier) Verify(h http.Header, body []byte) (model.GatewayEvent, error) {
	ts := h.Get("x-webhook-timestamp")
	got, err := base64.StdEncoding.DecodeString(strings.TrimSpace(h.Get("x-webhook-signature")))
	if err != nil || v.Secret == "" || ts == "" || !hmac.Equal(got, sign(v.Secret, []byte(ts), body)) {
		return model.GatewayEvent{}, model.ErrInvalidSignature
	}
	var p cashfreePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return model.GatewayEvent{}, fmt.Errorf("cashfree payload: %w", model.ErrInvalidInput)
	}
	ev := model.GatewayEvent{Gateway: Cashfree, Raw: body}
	var amount json.Number
	switch p.Type {
	case "PAYMENT_SUCCESS_WEBHOOK":
		ev.Kind, ev.Outcome = model.EventPayment, model.OutcomeSuccess
		ev.Reference = p.Data.Order.OrderID
		ev.Currency = p.Data.Order.OrderCurrency
		amount = p.Data.Payment.PaymentAmount
		ev.EventID = p.Type + ":" + p.Data.Payment.CFPaymentID.String()
	case "PAYMENT_FAILED_WEBHOOK", "PAYMENT_USER_DROPPED_WEBHOOK":
		ev.Kind, ev.Outcome = model.EventPayment, model.OutcomeFailure
		ev.Reference = p.Data.Order.OrderID
		ev.Currency = p.Data.Order.OrderCurrency
		ev.Reason = p.Data.Payment.PaymentMsg
		amount = p.Data.Payment.PaymentAmount
		ev.EventID = p.Type + ":" + p.Data.Payment.CFPaymentID.String()
	case "REFUND_STATUS_WEBHOOK":
		// PENDING, CANCELLED and FAILED refunds leave the payment in place.
		if !strings.EqualFold(p.Data.Refund.RefundStatus, "SUCCESS") {
			return model.GatewayEvent{}, fmt.Errorf("cashfree refund status %q: %w", p.Data.Refund.RefundStatus, model.ErrInvalidInput)
		}
		ev.Kind, ev.Outcome = model.EventPayment, model.OutcomeReversal
		ev.Reference = p.Data.Refund.OrderID
		ev.Currency = p.Data.Refund.Currency
		amount = p.Data.Refund.RefundAmount
		ev.EventID = p.Type + ":" + p.Data.Refund.CFRefundID
	case "TRANSFER_SUCCESS":
		ev.Kind, ev.Outcome = model.EventPayout, model.OutcomeSuccess
		ev.Reference = p.Data.Transfer.TransferID
		amount = p.Data.Transfer.Amount
	case "TRANSFER_FAILED", "TRANSFER_REVERSED":
		ev.Kind, ev.Outcome = model.EventPayout, model.OutcomeFailure
		if p.Type == "TRANSFER_REVERSED" {
			ev.Outcome = model.OutcomeReversal
		}
		ev.Reference = p.Data.Transfer.TransferID
		ev.Reason = p.Data.Transfer.Reason
		amount = p.Data.Transfer.Amount
	default:
		return model.GatewayEvent{}, fmt.Errorf("cashfree event %q: %w", p.Type, model.ErrInvalidInput)
	}
	if amount != "" {
		if ev.Amount, err = majorAmount(amount.String()); err != nil {
			return model.GatewayEvent{}, err
		}
	}
	ev.Currency = strings.ToUpper(ev.Currency)
	if ev.EventID == "" || strings.HasSuffix(ev.EventID, ":") {
		ev.EventID = h.Get("x-idempotency-key")
	}
	return ev, nil
}
