package api

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/caremesh/telehealth-booking/internal/webhook"
)

const maxWebhookBody = 1 << 20

// paymentWebhookHandler receives gateway callbacks. Signature verification
// happens before the body is even parsed, and any verified event that cannot
// be applied returns 5xx so the gateway redelivers it.
func paymentWebhookHandler(rec *webhook.Reconciler, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not read body")
			return
		}

		err = rec.HandleEvent(r.Context(), body, r.Header.Get("X-Webhook-Signature"))
		if err != nil {
			if errors.Is(err, webhook.ErrInvalidSignature) {
				writeError(w, http.StatusUnauthorized, "invalid_signature", "")
				return
			}
			log.Error("webhook processing failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "event not applied")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
