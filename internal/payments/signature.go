package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Signer computes and checks callback signatures: hex(HMAC-SHA256(secret, orderID|paymentID)).
type Signer struct {
	secret []byte
}

// NewSigner returns a signer for the shared secret. An empty secret rejects every signature.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(strings.TrimSpace(secret))}
}

// Sign returns the expected signature for the pair.
func (s *Signer) Sign(providerOrderID, providerPaymentID string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(providerOrderID + "|" + providerPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares in constant time.
func (s *Signer) Verify(providerOrderID, providerPaymentID, signature string) bool {
	if s == nil || len(s.secret) == 0 {
		return false
	}
	providerOrderID = strings.TrimSpace(providerOrderID)
	providerPaymentID = strings.TrimSpace(providerPaymentID)
	if providerOrderID == "" || providerPaymentID == "" {
		return false
	}
	got, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(signature)))
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(s.Sign(providerOrderID, providerPaymentID))
	return hmac.Equal(got, want)
}
