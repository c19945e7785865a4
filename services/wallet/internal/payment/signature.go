package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrInvalidSignature = errors.New("invalid payment signature")

// Sign returns hex(HMAC-SHA256(secret, orderID|paymentID)).
func Sign(secret []byte, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifySignature(secret []byte, orderID, paymentID, signature string) error {
	if len(secret) == 0 || orderID == "" || paymentID == "" || signature == "" {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(signature)))
	if err != nil {
		return ErrInvalidSignature
	}
	want, _ := hex.DecodeString(Sign(secret, orderID, paymentID))
	if !hmac.Equal(got, want) {
		return ErrInvalidSignature
	}
	return nil
}
