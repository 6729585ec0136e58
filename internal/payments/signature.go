package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the hex HMAC-SHA256 the processor sends with a successful
// payment: HMAC(secret, processorOrderID + "|" + processorPaymentID).
func Sign(secret []byte, processorOrderID, processorPaymentID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(processorOrderID + "|" + processorPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares in constant time. Anything that is not a
// well-formed matching signature is a mismatch.
func VerifySignature(secret []byte, processorOrderID, processorPaymentID, signature string) bool {
	if len(secret) == 0 || processorOrderID == "" || processorPaymentID == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(processorOrderID + "|" + processorPaymentID))
	return hmac.Equal(got, mac.Sum(nil))
}
