package httpserver

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// signatureHeader carries the platform's HMAC over the raw request body.
const signatureHeader = "X-Hub-Signature-256"

// VerifySignature checks the platform's HMAC-SHA256 signature over the raw
// body. The header value is "sha256=<hex digest>". Comparison is constant
// time.
func VerifySignature(appSecret string, body []byte, header string) bool {
	if appSecret == "" || header == "" {
		return false
	}

	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	providedMAC, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(providedMAC, mac.Sum(nil))
}
