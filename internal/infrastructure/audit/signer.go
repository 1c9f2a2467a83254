// Package audit delivers security pipeline audit events to the configured sinks.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"

	"github.com/turtacn/accessgate/internal/domain/models"
)

// encodeEvent serializes event and, when key is non-empty, returns its HMAC-SHA256 signature
// in base64 alongside the payload.
func encodeEvent(event *models.AuditEvent, key []byte) (payload []byte, signature string, err error) {
	payload, err = json.Marshal(event)
	if err != nil {
		return nil, "", err
	}
	if len(key) == 0 {
		return payload, "", nil
	}
	return payload, SignPayload(payload, key), nil
}

// SignPayload calculates the HMAC-SHA256 signature of an encoded audit event.
func SignPayload(payload, key []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(payload)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// VerifyPayload reports whether signature matches payload under key.
func VerifyPayload(payload []byte, signature string, key []byte) bool {
	expected, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, key)
	h.Write(payload)
	return hmac.Equal(h.Sum(nil), expected)
}
