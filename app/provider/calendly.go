package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const calendlyTolerance = 3 * time.Minute

type CalendlyProvider struct {
	signingKey string
	now        func() time.Time
}

func NewCalendlyProvider(signingKey string) *CalendlyProvider {
	return &CalendlyProvider{signingKey: strings.TrimSpace(signingKey), now: time.Now}
}

// ParseEvent checks the Calendly-Webhook-Signature header (t=...,v1=...) and
// then decodes the event envelope.
func (p *CalendlyProvider) ParseEvent(payload []byte, signatureHeader string) (*CalendlyEvent, error) {
	if p.signingKey == "" {
		return nil, fmt.Errorf("%w: calendly signing key is empty", ErrNotConfigured)
	}
	if !verifyTimestampedSignature(payload, signatureHeader, p.signingKey, calendlyTolerance, p.now()) {
		return nil, ErrInvalidSignature
	}

	var envelope struct {
		Event     string    `json:"event"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	return &CalendlyEvent{Event: envelope.Event, CreatedAt: envelope.CreatedAt}, nil
}

func verifyTimestampedSignature(payload []byte, header string, secret string, tolerance time.Duration, now time.Time) bool {
	if strings.TrimSpace(header) == "" {
		return false
	}

	var timestamp string
	signatures := make([]string, 0, 1)
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := now.Sub(time.Unix(ts, 0))
	if age < -tolerance || age > tolerance {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp + "." + string(payload)))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return true
		}
	}
	return false
}
