package security

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	apperrors "github.com/Murtadah-1984/ajz-api-foundation-sub000/internal/common/errors"
)

// CanonicalJSON serializes a payload so logically-equal payloads produce
// identical bytes: compact JSON with object keys sorted recursively. This is
// the wire contract for every signature this package produces and must not
// change once callers depend on it.
func CanonicalJSON(payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.ValidationError(fmt.Sprintf("payload is not serializable: %v", err))
	}

	// Round-trip through a generic decode so struct field order and caller
	// formatting stop mattering. UseNumber keeps numeric literals verbatim.
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var generic interface{}
	if err := decoder.Decode(&generic); err != nil {
		return nil, apperrors.ValidationError(fmt.Sprintf("payload is not valid JSON: %v", err))
	}

	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, apperrors.ValidationError(fmt.Sprintf("payload cannot be canonicalized: %v", err))
	}
	return canonical, nil
}

// GenerateSignature computes hex(HMAC-SHA256(canonical(payload) || "." ||
// timestamp)) where timestamp is unix seconds.
func GenerateSignature(payload interface{}, secret string, timestamp int64) (string, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	mac.Write([]byte("."))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature recomputes the signature and compares in constant time.
// A mismatch is a typed error, never a quiet false, so callers cannot
// accidentally ignore it.
func VerifySignature(payload interface{}, signature, secret string, timestamp int64) error {
	expected, err := GenerateSignature(payload, secret, timestamp)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return apperrors.InvalidCredentialError("signature verification failed")
	}
	return nil
}

// GenerateWebhookHMAC signs a payload without a timestamp component.
// Webhook consumers in the wild verify body-only signatures, so these
// carry no replay-window binding.
func GenerateWebhookHMAC(payload interface{}, secret string) (string, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyWebhookSignature is the timestamp-free counterpart of
// VerifySignature.
func VerifyWebhookSignature(payload interface{}, signature, secret string) error {
	expected, err := GenerateWebhookHMAC(payload, secret)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return apperrors.InvalidCredentialError("webhook signature verification failed")
	}
	return nil
}
