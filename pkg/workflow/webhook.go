package workflow

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

const (
	SignatureHeader          = "X-Signature"
	SignatureTimestampHeader = "X-Signature-Timestamp"
	signatureTolerance       = 5 * time.Minute
)

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrBadSignature     = errors.New("webhook signature mismatch")
	ErrStaleSignature   = errors.New("webhook signature timestamp outside tolerance")
)

// SignPayload computes hex(HMAC-SHA256(secret, timestamp + "." + body)).
func SignPayload(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a payment callback signature and its timestamp
// (unix seconds) against now.
func VerifySignature(secret []byte, timestamp, signature string, body []byte, now time.Time) error {
	if timestamp == "" || signature == "" {
		return ErrMissingSignature
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrMissingSignature
	}
	skew := now.Sub(time.Unix(unix, 0))
	if skew > signatureTolerance || skew < -signatureTolerance {
		return ErrStaleSignature
	}
	expected, err := hex.DecodeString(SignPayload(secret, timestamp, body))
	if err != nil {
		return err
	}
	given, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(expected, given) {
		return ErrBadSignature
	}
	return nil
}
