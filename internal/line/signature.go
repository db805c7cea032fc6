package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// SignatureHeader carries the base64 HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Line-Signature"

// ValidateSignature checks a webhook body against its X-Line-Signature value.
func ValidateSignature(channelSecret string, body []byte, signature string) bool {
	decoded, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(decoded) == 0 {
		return false
	}
	return hmac.Equal(decoded, Sign(channelSecret, body))
}

// Sign returns the raw HMAC-SHA256 of body keyed by the channel secret.
func Sign(channelSecret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return mac.Sum(nil)
}
