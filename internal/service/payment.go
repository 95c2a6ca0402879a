package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/boxoffice/internal/clock"
	"github.com/iliyamo/boxoffice/internal/metrics"
	"github.com/iliyamo/boxoffice/internal/model"
)

// Verifier authenticates a provider webhook and normalises its payload.
type Verifier interface {
	Name() string
	Verify(h http.Header, body []byte) (model.GatewayEvent, error)
}

// PaymentService ingests gateway webhooks: verify, deduplicate, then apply
// the event in one transaction with its durable processed record.
type PaymentService struct {
	tx        TxRunner
	events    EventRepository
	bookings  *BookingService
	ledger    *LedgerService
	dedupe    Deduper
	dedupeTTL time.Duration
	verifiers map[string]Verifier
	clock     clock.Clock
	log       *logrus.Entry
}

func NewPaymentService(tx TxRunner, events EventRepository, bookings *BookingService, ledger *LedgerService,
	dedupe Deduper, dedupeTTL time.Duration, clk clock.Clock, log *logrus.Entry, verifiers ...Verifier) *PaymentService {
	if dedupe == nil {
		dedupe = NopDeduper{}
	}
	if dedupeTTL <= 0 {
		dedupeTTL = 24 * time.Hour
	}
	s := &PaymentService{
		tx: tx, events: events, bookings: bookings, ledger: ledger,
		dedupe: dedupe, dedupeTTL: dedupeTTL, verifiers: map[string]Verifier{},
		clock: clk, log: component(log, "payments"),
	}
	for _, v := range verifiers {
		s.verifiers[strings.ToLower(v.Name())] = v
	}
	return s
}

// Gateways lists the names webhooks are accepted for.
func (s *PaymentService) Gateways() []string {
	out := make([]string, 0, len(s.verifiers))
	for name := range s.verifiers {
		out = append(out, name)
	}
	return out
}

// Ingest handles one webhook delivery. Verification failures are returned
// so the handler can answer 401. Unknown references and repeated deliveries
// are acknowledged without state change.
func (s *PaymentService) Ingest(ctx context.Context, gatewayName string, h http.Header, body []byte) (PaymentResult, error) {
	gatewayName = strings.ToLower(gatewayName)
	v, ok := s.verifiers[gatewayName]
	if !ok {
		return "", model.ErrUnknownGateway
	}
	ev, err := v.Verify(h, body)
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues(gatewayName, "invalid").Inc()
		s.log.WithError(err).WithField("gateway", gatewayName).Warn("webhook rejected")
		return "", err
	}
	ev.Gateway = gatewayName
	if ev.EventID == "" {
		sum := sha256.Sum256(body)
		ev.EventID = hex.EncodeToString(sum[:])
	}
	res, err := s.Apply(ctx, ev)
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues(gatewayName, "error").Inc()
		return "", err
	}
	metrics.WebhooksTotal.WithLabelValues(gatewayName, string(res)).Inc()
	return res, nil
}

// Apply dispatches an already verified event. Exported for replay tooling
// and tests.
func (s *PaymentService) Apply(ctx context.Context, ev model.GatewayEvent) (PaymentResult, error) {
	log := s.log.WithFields(logrus.Fields{
		"gateway": ev.Gateway, "event_id": ev.EventID, "kind": ev.Kind, "reference": ev.Reference,
	})
	key := "webhook:" + ev.Gateway + ":" + ev.EventID
	claimed, err := s.dedupe.Claim(ctx, key, s.dedupeTTL)
	if err != nil {
		log.WithError(err).Warn("dedupe fast path unavailable")
		claimed = true
	}
	if !claimed {
		return ResultDuplicate, nil
	}

	var (
		res     PaymentResult
		changed *model.Booking
	)
	err = atomically(ctx, s.tx, func(ctx context.Context) error {
		res, changed = "", nil
		fresh, err := s.events.MarkProcessed(ctx, ev.Gateway, ev.EventID, ev.Reference, s.clock.Now())
		if err != nil {
			return err
		}
		if !fresh {
			res = ResultDuplicate
			return nil
		}
		res, changed, err = s.dispatch(ctx, ev)
		if errors.Is(err, model.ErrUnknownReference) || errors.Is(err, model.ErrNotFound) {
			log.Warn("event references nothing we know")
			res = ResultIgnored
			return nil
		}
		return err
	})
	if err != nil {
		if rerr := s.dedupe.Release(ctx, key); rerr != nil {
			log.WithError(rerr).Warn("dedupe release failed")
		}
		return "", err
	}
	if changed != nil {
		s.bookings.publish(ctx, *changed)
	}
	if res == ResultRejected {
		log.Warn("payment event rejected")
	}
	return res, nil
}

func (s *PaymentService) dispatch(ctx context.Context, ev model.GatewayEvent) (PaymentResult, *model.Booking, error) {
	switch ev.Kind {
	case model.EventPayment:
		return s.bookings.applyPayment(ctx, ev)
	case model.EventPayout:
		var (
			ok  bool
			err error
		)
		switch ev.Outcome {
		case model.OutcomeSuccess:
			ok, err = s.ledger.completeWithdrawal(ctx, ev.Reference, ev.EventID)
		case model.OutcomeFailure, model.OutcomeReversal:
			reason := ev.Reason
			if reason == "" {
				reason = "payout " + string(ev.Outcome)
			}
			ok, err = s.ledger.failWithdrawal(ctx, ev.Reference, reason)
		default:
			return "", nil, fmt.Errorf("unknown outcome %q: %w", ev.Outcome, model.ErrInvalidInput)
		}
		if err != nil {
			return "", nil, err
		}
		if !ok {
			return ResultIgnored, nil, nil
		}
		return ResultApplied, nil, nil
	}
	return "", nil, fmt.Errorf("unknown event kind %q: %w", ev.Kind, model.ErrInvalidInput)
}
