package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/careline/telehealth-platform/internal/observability/metrics"
	"github.com/careline/telehealth-platform/pkg/logging"
)

const webhookProvider = "stripe"

// WebhookHandler receives Stripe events. The raw request body is kept
// byte-exact for signature verification; an invalid signature is a
// permanent rejection with no side effects.
type WebhookHandler struct {
	webhookSecret string
	reconciler    *Reconciler
	processed     *ProcessedStore
	metrics       *metrics.PaymentMetrics
	logger        *logging.Logger
}

// NewWebhookHandler creates a new handler for Stripe webhooks.
func NewWebhookHandler(webhookSecret string, reconciler *Reconciler, processed *ProcessedStore, m *metrics.PaymentMetrics, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		webhookSecret: webhookSecret,
		reconciler:    reconciler,
		processed:     processed,
		metrics:       m,
		logger:        logger,
	}
}

// Handle processes incoming Stripe webhook events.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if !verifySignature(h.webhookSecret, payload, sigHeader) {
		h.logger.Warn("webhook signature rejected")
		h.metrics.ObserveWebhook("invalid_signature", "rejected")
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	var evt webhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.logger.Error("failed to decode stripe event", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if evt.ID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}

	if h.processed != nil {
		if seen, err := h.processed.AlreadyProcessed(r.Context(), webhookProvider, evt.ID); err != nil {
			h.logger.Error("processed lookup failed", "error", err)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		} else if seen {
			h.metrics.ObserveWebhook(evt.Type, "duplicate")
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	obj := evt.Data.Object
	switch evt.Type {
	case "payment_intent.succeeded":
		err = h.reconciler.ApplySuccess(r.Context(), obj.ID, obj.Metadata)
	case "payment_intent.payment_failed", "invoice.payment_failed":
		err = h.reconciler.ApplyFailure(r.Context(), obj.ID, obj.Metadata)
	default:
		h.logger.Debug("unhandled stripe event type", "type", evt.Type)
		h.metrics.ObserveWebhook(evt.Type, "ignored")
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		h.logger.Error("webhook apply failed", "error", err, "event_id", evt.ID, "type", evt.Type)
		h.metrics.ObserveWebhook(evt.Type, "error")
		// Non-2xx so the gateway redelivers.
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if h.processed != nil {
		if err := h.processed.MarkProcessed(r.Context(), webhookProvider, evt.ID); err != nil {
			h.logger.Error("failed to record processed event", "error", err, "event_id", evt.ID)
		}
	}
	h.metrics.ObserveWebhook(evt.Type, "applied")
	h.metrics.ObserveWebhookLatency(evt.Type, time.Since(start).Seconds())
	w.WriteHeader(http.StatusOK)
}

// webhookEvent is the Stripe event envelope.
type webhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object webhookObject `json:"object"`
	} `json:"data"`
}

// webhookObject is the payment_intent (or invoice) inside the event.
type webhookObject struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

// verifySignature verifies a Stripe webhook signature.
// Stripe signs with HMAC-SHA256 and sends the signature in the
// Stripe-Signature header as: t=<timestamp>,v1=<signature>[,v0=...]
func verifySignature(secret string, payload []byte, header string) bool {
	if secret == "" {
		return true // bypass for development
	}
	if header == "" {
		return false
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(part, "=", 2)
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

	// Reject stale timestamps (5 minute tolerance).
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if abs64(time.Now().Unix()-ts) > 300 {
		return false
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
