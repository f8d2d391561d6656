package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-courier-sync/core"
)

const defaultTolerance = 5 * time.Minute

// CourierResolver returns the normalized configuration for a courier.
type CourierResolver interface {
	Courier(id string) (core.CourierConfig, bool)
}

// VerifiedEvent is an authenticated, decoded courier callback.
type VerifiedEvent struct {
	CourierID     string
	EventID       string
	EventType     string
	TrackingRef   string
	CourierStatus string
	RawReason     string
	OccurredAt    time.Time
	SignedAt      time.Time
	Headers       map[string]string
}

type SignatureVerifier struct {
	Couriers  CourierResolver
	Tolerance time.Duration
	Observer  core.Observer
	Now       func() time.Time
}

func NewSignatureVerifier(couriers CourierResolver, tolerance time.Duration) *SignatureVerifier {
	return &SignatureVerifier{
		Couriers:  couriers,
		Tolerance: tolerance,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Verify authenticates body against the courier secret at the current time.
func (v *SignatureVerifier) Verify(ctx context.Context, courierID string, body []byte, headers map[string]string) (VerifiedEvent, error) {
	return v.VerifyAt(ctx, courierID, body, headers, v.now())
}

// VerifyAt is Verify with an explicit receipt time, used when re-verifying
// a stored event against the moment it originally arrived.
func (v *SignatureVerifier) VerifyAt(
	ctx context.Context,
	courierID string,
	body []byte,
	headers map[string]string,
	receivedAt time.Time,
) (VerifiedEvent, error) {
	courierID = strings.TrimSpace(courierID)
	metadata := map[string]any{
		"courier_id":   courierID,
		"payload_hash": core.PayloadFingerprint(body),
	}
	if v == nil || v.Couriers == nil {
		return VerifiedEvent{}, v.reject(ctx, invalidSignature("webhooks: verifier is not configured", metadata), metadata)
	}
	courier, ok := v.Couriers.Courier(courierID)
	if !ok || strings.TrimSpace(courier.Secret) == "" {
		return VerifiedEvent{}, v.reject(ctx, invalidSignature("webhooks: unknown courier", metadata), metadata)
	}

	rawTimestamp := headerValue(headers, courier.TimestampHeader)
	if rawTimestamp == "" {
		return VerifiedEvent{}, v.reject(ctx, invalidSignature("webhooks: timestamp header is required", metadata), metadata)
	}
	signedAt, err := parseTimestamp(rawTimestamp)
	if err != nil {
		return VerifiedEvent{}, v.reject(ctx, invalidSignature("webhooks: timestamp header is malformed", metadata), metadata)
	}
	delta := receivedAt.Sub(signedAt)
	if delta < 0 {
		delta = -delta
	}
	if delta > v.tolerance() {
		metadata["skew_seconds"] = int64(delta.Seconds())
		return VerifiedEvent{}, v.reject(ctx, replayDetected("webhooks: timestamp outside tolerance window", metadata), metadata)
	}

	header := headerValue(headers, courier.SignatureHeader)
	if header == "" {
		return VerifiedEvent{}, v.reject(ctx, invalidSignature("webhooks: signature header is required", metadata), metadata)
	}
	provided, err := decodeSignature(header, courier.SignatureEncoding)
	if err != nil {
		return VerifiedEvent{}, v.reject(ctx, invalidSignature("webhooks: signature header is malformed", metadata), metadata)
	}
	expected := ComputeSignature(courier.Secret, rawTimestamp, body)
	if subtle.ConstantTimeCompare(provided, expected) != 1 {
		return VerifiedEvent{}, v.reject(ctx, invalidSignature("webhooks: signature verification failed", metadata), metadata)
	}

	event, err := DecodePayload(courier, body, headers)
	if err != nil {
		return VerifiedEvent{}, v.reject(ctx, undecodablePayload(err, metadata), metadata)
	}
	event.SignedAt = signedAt
	if event.OccurredAt.IsZero() {
		event.OccurredAt = signedAt
	}
	event.Headers = retainedHeaders(courier, headers)
	return event, nil
}

func (v *SignatureVerifier) reject(ctx context.Context, err error, metadata map[string]any) error {
	if v == nil {
		return err
	}
	fields := map[string]any{}
	for key, value := range metadata {
		fields[key] = value
	}
	fields["reason"] = err.Error()
	v.Observer.Warn(ctx, "webhooks: inbound event rejected", fields)
	return err
}

func (v *SignatureVerifier) tolerance() time.Duration {
	if v != nil && v.Tolerance > 0 {
		return v.Tolerance
	}
	return defaultTolerance
}

func (v *SignatureVerifier) now() time.Time {
	if v != nil && v.Now != nil {
		return v.Now().UTC()
	}
	return time.Now().UTC()
}

// ComputeSignature returns HMAC-SHA256(secret, timestamp + "." + body).
func ComputeSignature(secret string, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(strings.TrimSpace(secret)))
	_, _ = mac.Write([]byte(strings.TrimSpace(timestamp)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

// SignatureHeaderValue renders a signature in the courier's encoding.
func SignatureHeaderValue(secret string, timestamp string, body []byte, encoding string) string {
	signature := ComputeSignature(secret, timestamp, body)
	if strings.EqualFold(strings.TrimSpace(encoding), core.SignatureEncodingBase64) {
		return base64.StdEncoding.EncodeToString(signature)
	}
	return "sha256=" + hex.EncodeToString(signature)
}

func decodeSignature(header string, encoding string) ([]byte, error) {
	signature := strings.TrimSpace(header)
	signature = strings.TrimSpace(strings.TrimPrefix(signature, "sha256="))
	if signature == "" {
		return nil, fmt.Errorf("webhooks: signature value is required")
	}
	if strings.EqualFold(strings.TrimSpace(encoding), core.SignatureEncodingBase64) {
		return base64.StdEncoding.DecodeString(signature)
	}
	return hex.DecodeString(signature)
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}

// DecodePayload extracts the pipeline fields from a JSON courier payload
// using the courier's field mapping.
func DecodePayload(courier core.CourierConfig, body []byte, headers map[string]string) (VerifiedEvent, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var payload map[string]any
	if err := decoder.Decode(&payload); err != nil {
		return VerifiedEvent{}, fmt.Errorf("webhooks: decode json payload: %w", err)
	}
	fields := courier.Fields
	event := VerifiedEvent{
		CourierID:     strings.TrimSpace(courier.ID),
		EventID:       lookupString(payload, fields.EventID),
		TrackingRef:   lookupString(payload, fields.TrackingRef),
		CourierStatus: lookupString(payload, fields.Status),
		RawReason:     lookupString(payload, fields.Reason),
		EventType:     headerValue(headers, courier.EventTypeHeader),
	}
	if event.EventType == "" {
		event.EventType = lookupString(payload, fields.EventType)
	}
	switch {
	case event.EventID == "":
		return VerifiedEvent{}, fmt.Errorf("webhooks: payload field %q (event id) is required", fields.EventID)
	case event.TrackingRef == "":
		return VerifiedEvent{}, fmt.Errorf("webhooks: payload field %q (tracking ref) is required", fields.TrackingRef)
	case event.CourierStatus == "":
		return VerifiedEvent{}, fmt.Errorf("webhooks: payload field %q (status) is required", fields.Status)
	}
	if occurred := lookupString(payload, fields.OccurredAt); occurred != "" {
		occurredAt, err := parseTimestamp(occurred)
		if err != nil {
			return VerifiedEvent{}, fmt.Errorf("webhooks: payload field %q is not a timestamp: %w", fields.OccurredAt, err)
		}
		event.OccurredAt = occurredAt
	}
	return event, nil
}

func lookupString(payload map[string]any, path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	var current any = payload
	for _, segment := range strings.Split(path, ".") {
		object, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current, ok = object[segment]
		if !ok {
			return ""
		}
	}
	switch typed := current.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return typed.String()
	case bool:
		return strconv.FormatBool(typed)
	default:
		return ""
	}
}

func retainedHeaders(courier core.CourierConfig, headers map[string]string) map[string]string {
	out := map[string]string{}
	for _, key := range []string{courier.SignatureHeader, courier.TimestampHeader, courier.EventTypeHeader} {
		if value := headerValue(headers, key); value != "" {
			out[key] = value
		}
	}
	return out
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
