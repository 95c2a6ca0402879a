package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/boxoffice/internal/model"
)

// ErrPayoutRejected means the provider refused the transfer for good, for
// example invalid bank details. The withdrawal should fail; retrying will
// not help.
var ErrPayoutRejected = errors.New("payout rejected")

// PayoutRequest asks the provider to move money to a bank account. The
// withdrawal id doubles as the idempotency key.
type PayoutRequest struct {
	WithdrawalID string            `json:"reference_id"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Bank         model.BankDetails `json:"bank_account"`
}

// Payout statuses reported by the provider.
const (
	PayoutProcessed = "processed"
	PayoutQueued    = "queued"
	PayoutFailed    = "failed"
)

type PayoutResult struct {
	TransferID    string `json:"id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
}

// PayoutClient calls the payout provider's REST API through a circuit
// breaker.
type PayoutClient struct {
	http    *resty.Client
	breaker *Breaker
	log     *logrus.Entry
}

func NewPayoutClient(baseURL, apiKey string, timeout time.Duration, log *logrus.Entry) *PayoutClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json")
	return &PayoutClient{
		http:    c,
		breaker: NewBreaker("payout", log, ErrPayoutRejected),
		log:     log.WithField("component", "payout_client"),
	}
}

// Transfer submits req. A queued result means the outcome arrives later as
// a payout webhook.
func (c *PayoutClient) Transfer(ctx context.Context, req PayoutRequest) (PayoutResult, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		var res PayoutResult
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("Idempotency-Key", req.WithdrawalID).
			SetBody(req).
			SetResult(&res).
			Post("/v1/payouts")
		if err != nil {
			return nil, err
		}
		switch code := resp.StatusCode(); {
		case code >= 200 && code < 300:
			return res, nil
		case code >= 400 && code < 500 && code != http.StatusTooManyRequests:
			return nil, fmt.Errorf("%w: status %d: %s", ErrPayoutRejected, code, resp.String())
		default:
			return nil, fmt.Errorf("payout provider returned status %d: %s", code, resp.String())
		}
	})
	if err != nil {
		return PayoutResult{}, err
	}
	res := out.(PayoutResult)
	c.log.WithFields(logrus.Fields{"withdrawal_id": req.WithdrawalID, "transfer_id": res.TransferID, "status": res.Status}).Info("payout submitted")
	return res, nil
}
