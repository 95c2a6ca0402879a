package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/iliyamo/boxoffice/internal/model"
)

// RazorpayVerifier checks X-Razorpay-Signature, the hex HMAC-SHA256 of the
// raw body. The booking reference travels in notes.reference, which the
// checkout sets from Booking.GatewayRef.
type RazorpayVerifier struct {
	Secret string
}

func (RazorpayVerifier) Name() string { return Razorpay }

type razorpayEntity struct {
	ID               string            `json:"id"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Notes            map[string]string `json:"notes"`
	ReferenceID      string            `json:"reference_id"`
	ErrorDescription string            `json:"error_description"`
	FailureReason    string            `json:"failure_reason"`
	PaymentID        string            `json:"payment_id"`
}

type razorpayPayload struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity razorpayEntity `json:"entity"`
		} `json:"payment"`
		Refund struct {
			Entity razorpayEntity `json:"entity"`
		} `json:"refund"`
		Payout struct {
			Entity razorpayEntity `json:"entity"`
		} `json:"payout"`
	} `json:"payload"`
}

func (v RazorpayVerifier) Verify(h http.Header, body []byte) (model.GatewayEvent, error) {
	if err := checkHex(v.Secret, body, h.Get("X-Razorpay-Signature")); err != nil {
		return model.GatewayEvent{}, err
	}
	var p razorpayPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return model.GatewayEvent{}, fmt.Errorf("razorpay payload: %w", model.ErrInvalidInput)
	}
	ev := model.GatewayEvent{
		Gateway: Razorpay,
		EventID: h.Get("X-Razorpay-Event-Id"),
		Raw:     body,
	}
	var ent razorpayEntity
	switch p.Event {
	case "payment.captured", "order.paid":
		ent = p.Payload.Payment.Entity
		ev.Kind, ev.Outcome = model.EventPayment, model.OutcomeSuccess
	case "payment.failed":
		ent = p.Payload.Payment.Entity
		ev.Kind, ev.Outcome = model.EventPayment, model.OutcomeFailure
		ev.Reason = ent.ErrorDescription
	case "refund.processed", "payment.dispute.lost":
		ent = p.Payload.Payment.Entity
		if ent.ID == "" {
			ent = p.Payload.Refund.Entity
		}
		ev.Kind, ev.Outcome = model.EventPayment, model.OutcomeReversal
	case "payout.processed":
		ent = p.Payload.Payout.Entity
		ev.Kind, ev.Outcome = model.EventPayout, model.OutcomeSuccess
	case "payout.failed", "payout.rejected":
		ent = p.Payload.Payout.Entity
		ev.Kind, ev.Outcome = model.EventPayout, model.OutcomeFailure
		ev.Reason = ent.FailureReason
	case "payout.reversed":
		ent = p.Payload.Payout.Entity
		ev.Kind, ev.Outcome = model.EventPayout, model.OutcomeReversal
		ev.Reason = ent.FailureReason
	default:
		return model.GatewayEvent{}, fmt.Errorf("razorpay event %q: %w", p.Event, model.ErrInvalidInput)
	}
	ev.Amount = ent.Amount
	ev.Currency = strings.ToUpper(ent.Currency)
	if ev.Kind == model.EventPayout {
		ev.Reference = ent.ReferenceID
	} else {
		ev.Reference = ent.Notes["reference"]
	}
	if ev.EventID == "" {
		ev.EventID = p.Event + ":" + ent.ID
	}
	return ev, nil
}
