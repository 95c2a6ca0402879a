package gateway

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/boxoffice/internal/model"
)

const secret = "whsec_123"

func TestRazorpayVerifier(t *testing.T) {
	v := RazorpayVerifier{Secret: secret}

	t.Run("payment captured", func(t *testing.T) {
		body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","amount":50000,"currency":"inr","notes":{"reference":"bkg_abc"}}}}}`)
		h := http.Header{}
		h.Set("X-Razorpay-Signature", SignHex(secret, body))
		h.Set("X-Razorpay-Event-Id", "evt_1")

		ev, err := v.Verify(h, body)
		require.NoError(t, err)
		assert.Equal(t, model.EventPayment, ev.Kind)
		assert.Equal(t, model.OutcomeSuccess, ev.Outcome)
		assert.Equal(t, "bkg_abc", ev.Reference)
		assert.Equal(t, int64(50000), ev.Amount)
		assert.Equal(t, "INR", ev.Currency)
		assert.Equal(t, "evt_1", ev.EventID)
	})

	t.Run("payout failed without event id header", func(t *testing.T) {
		body := []byte(`{"event":"payout.failed","payload":{"payout":{"entity":{"id":"pout_9","amount":100,"reference_id":"wd-1","failure_reason":"closed"}}}}`)
		h := http.Header{}
		h.Set("X-Razorpay-Signature", SignHex(secret, body))

		ev, err := v.Verify(h, body)
		require.NoError(t, err)
		assert.Equal(t, model.EventPayout, ev.Kind)
		assert.Equal(t, model.OutcomeFailure, ev.Outcome)
		assert.Equal(t, "wd-1", ev.Reference)
		assert.Equal(t, "closed", ev.Reason)
		assert.Equal(t, "payout.failed:pout_9", ev.EventID)
	})

	t.Run("tampered body", func(t *testing.T) {
		body := []byte(`{"event":"payment.captured"}`)
		h := http.Header{}
		h.Set("X-Razorpay-Signature", SignHex(secret, body))
		_, err := v.Verify(h, []byte(`{"event":"payment.failed"}`))
		assert.ErrorIs(t, err, model.ErrInvalidSignature)
	})

	t.Run("empty secret never verifies", func(t *testing.T) {
		body := []byte(`{}`)
		h := http.Header{}
		h.Set("X-Razorpay-Signature", SignHex("", body))
		_, err := RazorpayVerifier{}.Verify(h, body)
		assert.ErrorIs(t, err, model.ErrInvalidSignature)
	})

	t.Run("unhandled event", func(t *testing.T) {
		body := []byte(`{"event":"invoice.paid"}`)
		h := http.Header{}
		h.Set("X-Razorpay-Signature", SignHex(secret, body))
		_, err := v.Verify(h, body)
		assert.ErrorIs(t, err, model.ErrInvalidInput)
	})
}

func TestCashfreeVerifier(t *testing.T) {
	v := CashfreeVerifier{Secret: secret}
	body := []byte(`{"type":"PAYMENT_SUCCESS_WEBHOOK","data":{"order":{"order_id":"bkg_abc","order_amount":499.5,"order_currency":"INR"},"payment":{"cf_payment_id":12345,"payment_amount":499.50,"payment_status":"SUCCESS"}}}`)

	h := http.Header{}
	h.Set("x-webhook-timestamp", "1718000000")
	h.Set("x-webhook-signature", SignBase64(secret, "1718000000", body))

	ev, err := v.Verify(h, body)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSuccess, ev.Outcome)
	assert.Equal(t, "bkg_abc", ev.Reference)
	assert.Equal(t, int64(49950), ev.Amount)
	assert.Equal(t, "PAYMENT_SUCCESS_WEBHOOK:12345", ev.EventID)

	h.Set("x-webhook-timestamp", "1718000001")
	_, err = v.Verify(h, body)
	assert.ErrorIs(t, err, model.ErrInvalidSignature, "timestamp is part of the signature")

	t.Run("refund only reverses once it succeeded", func(t *testing.T) {
		refund := func(status string) ([]byte, http.Header) {
			body := []byte(`{"type":"REFUND_STATUS_WEBHOOK","data":{"refund":{"cf_refund_id":"rf_1","order_id":"bkg_abc","refund_amount":499.50,"refund_currency":"INR","refund_status":"` + status + `"}}}`)
			h := http.Header{}
			h.Set("x-webhook-timestamp", "5")
			h.Set("x-webhook-signature", SignBase64(secret, "5", body))
			return body, h
		}
		for _, status := range []string{"CANCELLED", "FAILED", "PENDING", ""} {
			body, h := refund(status)
			_, err := v.Verify(h, body)
			assert.ErrorIs(t, err, model.ErrInvalidInput, status)
		}

		body, h := refund("SUCCESS")
		ev, err := v.Verify(h, body)
		require.NoError(t, err)
		assert.Equal(t, model.OutcomeReversal, ev.Outcome)
		assert.Equal(t, "bkg_abc", ev.Reference)
		assert.Equal(t, int64(49950), ev.Amount)
		assert.Equal(t, "REFUND_STATUS_WEBHOOK:rf_1", ev.EventID)
	})

	t.Run("transfer reversed uses idempotency key", func(t *testing.T) {
		body := []byte(`{"type":"TRANSFER_REVERSED","data":{"transfer":{"transfer_id":"wd-1","transfer_amount":"10.00","reason":"bank bounce"}}}`)
		h := http.Header{}
		h.Set("x-webhook-timestamp", "1")
		h.Set("x-webhook-signature", SignBase64(secret, "1", body))
		h.Set("x-idempotency-key", "idem-7")

		ev, err := v.Verify(h, body)
		require.NoError(t, err)
		assert.Equal(t, model.EventPayout, ev.Kind)
		assert.Equal(t, model.OutcomeReversal, ev.Outcome)
		assert.Equal(t, int64(1000), ev.Amount)
		assert.Equal(t, "idem-7", ev.EventID)
	})
}

func TestGenericVerifier(t *testing.T) {
	v := GenericVerifier{Secret: secret}
	sign := func(body string) http.Header {
		h := http.Header{}
		h.Set("X-Signature", SignHex(secret, []byte(body)))
		return h
	}

	body := `{"event_id":"e1","reference":"bkg_1","outcome":"SUCCESS","amount":100,"currency":"inr"}`
	ev, err := v.Verify(sign(body), []byte(body))
	require.NoError(t, err)
	assert.Equal(t, model.EventPayment, ev.Kind)
	assert.Equal(t, model.OutcomeSuccess, ev.Outcome)
	assert.Equal(t, "INR", ev.Currency)

	for _, bad := range []string{
		`{"reference":"bkg_1","outcome":"maybe"}`,
		`{"kind":"refund","reference":"bkg_1","outcome":"success"}`,
		`{"outcome":"success"}`,
		`not json`,
	} {
		_, err := v.Verify(sign(bad), []byte(bad))
		assert.ErrorIs(t, err, model.ErrInvalidInput, bad)
	}
}
