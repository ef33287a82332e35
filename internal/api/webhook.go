package api

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/Allforms/estatepadi/internal/app"
	"github.com/Allforms/estatepadi/internal/domain"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "x-paystack-signature"

const maxWebhookBody = 1 << 20

// VerifySignature reports whether signature is the hex HMAC-SHA512 of body under secret.
// An empty secret or signature never verifies.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	given, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(given, mac.Sum(nil))
}

// handlePaystackWebhook verifies and applies one gateway event. Everything except a bad
// signature or an infrastructure failure is acknowledged with 200 so the gateway stops retrying.
func (h *Handler) handlePaystackWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !VerifySignature(h.webhookSecret, body, r.Header.Get(SignatureHeader)) {
		h.logger.Warn("webhook signature rejected", "remote_addr", r.RemoteAddr, "request_id", RequestIDFromContext(r.Context()))
		respondWithError(w, http.StatusBadRequest, "Invalid signature")
		return
	}

	var event app.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil || event.Event == "" {
		h.logger.Warn("ignoring malformed webhook body", "request_id", RequestIDFromContext(r.Context()), "error", err)
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "success"})
		return
	}

	if _, err := h.processor.Process(r.Context(), auditFromRequest(r, domain.ActorGateway, ""), event); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Webhook processing failed")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
