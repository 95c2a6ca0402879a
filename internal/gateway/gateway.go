// Package gateway verifies payment provider webhooks and normalises them
// into model.GatewayEvent, and calls the payout provider.
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/boxoffice/internal/model"
)

const (
	Razorpay = "razorpay"
	Cashfree = "cashfree"
	Generic  = "generic"
)

func sign(secret string, parts ...[]byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	for _, p := range parts {
		mac.Write(p)
	}
	return mac.Sum(nil)
}

// SignHex returns the hex HMAC-SHA256 of body. Used by razorpay and the
// generic relay.
func SignHex(secret string, body []byte) string {
	return hex.EncodeToString(sign(secret, body))
}

// SignBase64 returns the base64 HMAC-SHA256 of timestamp followed by body,
// as cashfree signs.
func SignBase64(secret, timestamp string, body []byte) string {
	return base64.StdEncoding.EncodeToString(sign(secret, []byte(timestamp), body))
}

func checkHex(secret string, body []byte, got string) error {
	want, err := hex.DecodeString(strings.TrimSpace(got))
	if err != nil || secret == "" || !hmac.Equal(want, sign(secret, body)) {
		return model.ErrInvalidSignature
	}
	return nil
}

// majorAmount converts a decimal major-unit amount such as "499.50".
func majorAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, model.ErrInvalidInput)
	}
	return model.MajorToMinor(d), nil
}
