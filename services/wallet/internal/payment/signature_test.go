package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var secret = []byte("gateway-secret")

func TestVerifySignature(t *testing.T) {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte("order_1|pay_1"))
	want := hex.EncodeToString(mac.Sum(nil))

	sig := Sign(secret, "order_1", "pay_1")
	if sig != want {
		t.Fatalf("expected %s, got %s", want, sig)
	}
	if err := VerifySignature(secret, "order_1", "pay_1", sig); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if err := VerifySignature(secret, "order_1", "pay_1", strings.ToUpper(sig)); err != nil {
		t.Fatalf("expected case-insensitive hex, got %v", err)
	}
}

func TestVerifySignatureRejects(t *testing.T) {
	sig := Sign(secret, "order_1", "pay_1")
	cases := []struct {
		name                 string
		secret               []byte
		order, payment, sign string
	}{
		{"wrong secret", []byte("other"), "order_1", "pay_1", sig},
		{"swapped ids", secret, "pay_1", "order_1", sig},
		{"tampered payment", secret, "order_1", "pay_2", sig},
		{"not hex", secret, "order_1", "pay_1", "zz"},
		{"empty signature", secret, "order_1", "pay_1", ""},
		{"empty secret", nil, "order_1", "pay_1", sig},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := VerifySignature(tc.secret, tc.order, tc.payment, tc.sign); !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("expected ErrInvalidSignature, got %v", err)
			}
		})
	}
}

func TestSignSeparatesIDs(t *testing.T) {
	if Sign([]byte("key"), "a", "b") == Sign([]byte("key"), "a|", "b") {
		t.Fatalf("distinct messages must not collide")
	}
	if len(Sign(secret, "o", "p")) != 64 {
		t.Fatalf("expected 64 hex chars")
	}
}

func TestConfirmationValidate(t *testing.T) {
	valid := Confirmation{AccountID: uuid.New(), Amount: decimal.NewFromInt(10), OrderID: "o", PaymentID: "p"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}

	missing := valid
	missing.PaymentID = " "
	if err := missing.Validate(); !errors.Is(err, ErrInvalidConfirmation) {
		t.Fatalf("expected ErrInvalidConfirmation, got %v", err)
	}

	zero := valid
	zero.Amount = decimal.Zero
	if err := zero.Validate(); !errors.Is(err, ErrInvalidConfirmation) {
		t.Fatalf("expected ErrInvalidConfirmation, got %v", err)
	}

	if id := NewOrderID(); !strings.HasPrefix(id, "order_") || len(id) != 38 {
		t.Fatalf("unexpected order id %q", id)
	}
}
