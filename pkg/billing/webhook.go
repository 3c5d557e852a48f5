package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/entitle/pkg/entitlement"
	"github.com/platinummonkey/entitle/pkg/observability"
)

const (
	// DefaultWebhookTolerance bounds the age of a signed webhook
	DefaultWebhookTolerance = 5 * time.Minute

	maxWebhookBody = 64 << 10
)

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrStaleSignature   = errors.New("webhook timestamp outside tolerance")
)

// VerifySignature checks a Stripe-Signature header of the form
// "t=<unix>,v1=<hex>[,v1=<hex>]" against HMAC-SHA256(secret, "<t>.<payload>").
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if header == "" {
		return ErrMissingSignature
	}

	var timestamp int64
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return ErrInvalidSignature
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return ErrInvalidSignature
	}

	signedAt := time.Unix(timestamp, 0)
	if tolerance > 0 && (now.Sub(signedAt) > tolerance || signedAt.Sub(now) > tolerance) {
		return ErrStaleSignature
	}

	expected := ComputeSignature(payload, secret, timestamp)
	for _, sig := range signatures {
		decoded, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// ComputeSignature returns the raw v1 signature for payload signed at timestamp
func ComputeSignature(payload []byte, secret string, timestamp int64) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return mac.Sum(nil)
}

// EventParser decodes the subscription object carried by an event
type EventParser interface {
	ParseSubscriptionEvent(raw json.RawMessage) (*ProviderSubscription, error)
}

// WebhookHandler receives provider events and applies subscription changes
type WebhookHandler struct {
	service   *Service
	parser    EventParser
	secret    string
	tolerance time.Duration
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewWebhookHandler creates the webhook endpoint handler
func NewWebhookHandler(service *Service, parser EventParser, secret string) *WebhookHandler {
	return &WebhookHandler{
		service:   service,
		parser:    parser,
		secret:    secret,
		tolerance: DefaultWebhookTolerance,
		logger:    service.logger,
		metrics:   service.metrics,
		now:       service.now,
	}
}

// SetTolerance overrides the accepted signature age
func (h *WebhookHandler) SetTolerance(d time.Duration) {
	if d > 0 {
		h.tolerance = d
	}
}

type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.reply(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if err := VerifySignature(payload, r.Header.Get("Stripe-Signature"), h.secret, h.tolerance, h.now()); err != nil {
		h.logger.WithError(err).Warn("Rejected webhook")
		h.metrics.RecordWebhookEvent("unknown", "rejected")
		h.reply(w, http.StatusBadRequest, "invalid signature")
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.metrics.RecordWebhookEvent("unknown", "rejected")
		h.reply(w, http.StatusBadRequest, "invalid event")
		return
	}

	logger := h.logger.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
	})

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
	default:
		h.metrics.RecordWebhookEvent(event.Type, "ignored")
		h.reply(w, http.StatusOK, "ignored")
		return
	}

	ps, err := h.parser.ParseSubscriptionEvent(event.Data.Object)
	if err != nil {
		logger.WithError(err).Warn("Undecodable subscription event")
		h.metrics.RecordWebhookEvent(event.Type, "rejected")
		h.reply(w, http.StatusBadRequest, "invalid subscription")
		return
	}
	if event.Type == "customer.subscription.deleted" {
		ps.Status = StatusCanceled
	}

	if _, err := h.service.Apply(r.Context(), ps); err != nil {
		// malformed or deleted references will never succeed, so they are acknowledged
		if errors.Is(err, entitlement.ErrInvalidInput) || errors.Is(err, ErrReferenceGone) {
			logger.WithError(err).Warn("Ignoring subscription event")
			h.metrics.RecordWebhookEvent(event.Type, "ignored")
			h.reply(w, http.StatusOK, "ignored")
			return
		}
		logger.WithError(err).Error("Failed to apply subscription event")
		h.metrics.RecordWebhookEvent(event.Type, "failed")
		h.reply(w, http.StatusInternalServerError, "retry")
		return
	}

	h.metrics.RecordWebhookEvent(event.Type, "applied")
	h.reply(w, http.StatusOK, "applied")
}

func (h *WebhookHandler) reply(w http.ResponseWriter, status int, result string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"result": result})
}
