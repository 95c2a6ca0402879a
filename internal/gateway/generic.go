package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/iliyamo/boxoffice/internal/model"
)

// GenericVerifier accepts already normalised events signed with a hex
// HMAC-SHA256 in X-Signature. It fronts relays for providers without a
// dedicated adapter.
type GenericVerifier struct {
	Secret string
}

func (GenericVerifier) Name() string { return Generic }

// GenericEvent is the body a relay posts.
type GenericEvent struct {
	EventID   string `json:"event_id"`
	Kind      string `json:"kind"`
	Reference string `json:"reference"`
	Outcome   string `json:"outcome"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Reason    string `json:"reason,omitempty"`
}

func (v GenericVerifier) Verify(h http.Header, body []byte) (model.GatewayEvent, error) {
	if err := checkHex(v.Secret, body, h.Get("X-Signature")); err != nil {
		return model.GatewayEvent{}, err
	}
	var p GenericEvent
	if err := json.Unmarshal(body, &p); err != nil {
		return model.GatewayEvent{}, fmt.Errorf("generic payload: %w", model.ErrInvalidInput)
	}
	kind := model.EventKind(strings.ToLower(p.Kind))
	if kind == "" {
		kind = model.EventPayment
	}
	outcome := model.Outcome(strings.ToLower(p.Outcome))
	switch {
	case kind != model.EventPayment && kind != model.EventPayout:
		return model.GatewayEvent{}, fmt.Errorf("kind %q: %w", p.Kind, model.ErrInvalidInput)
	case outcome != model.OutcomeSuccess && outcome != model.OutcomeFailure && outcome != model.OutcomeReversal:
		return model.GatewayEvent{}, fmt.Errorf("outcome %q: %w", p.Outcome, model.ErrInvalidInput)
	case p.Reference == "":
		return model.GatewayEvent{}, fmt.Errorf("missing reference: %w", model.ErrInvalidInput)
	}
	return model.GatewayEvent{
		Gateway:   Generic,
		EventID:   p.EventID,
		Kind:      kind,
		Reference: p.Reference,
		Outcome:   outcome,
		Amount:    p.Amount,
		Currency:  strings.ToUpper(p.Currency),
		Reason:    p.Reason,
		Raw:       body,
	}, nil
}
