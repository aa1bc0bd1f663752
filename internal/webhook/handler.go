// Package webhook receives payment gateway callbacks. The endpoint is
// unauthenticated by design: trust comes from the HMAC signature over the
// raw body, verified before the payload is even parsed.
package webhook

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/Nikhil170404/hyperlocal-sub001/internal/errs"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/service"
)

// SignatureHeader carries the gateway's HMAC over the raw request body.
const SignatureHeader = "X-Razorpay-Signature"

// maxBodyBytes caps webhook payload size.
const maxBodyBytes = 1 << 20

// Handler returns the HTTP handler for gateway webhook deliveries.
// Signature and parse failures return 400 so a misconfigured sender notices;
// transient processing failures return 500 so the provider retries; every
// other outcome, replays included, is acknowledged with 200.
func Handler(payments *service.PaymentService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		outcome, err := payments.HandleWebhook(r.Context(), body, r.Header.Get(SignatureHeader))
		switch {
		case err == nil:
			slog.Info("webhook processed", "outcome", outcome)
			w.WriteHeader(http.StatusOK)
		case errors.Is(err, errs.ErrSignatureMismatch), errors.Is(err, errs.ErrValidation):
			slog.Warn("webhook rejected", "error", err)
			w.WriteHeader(http.StatusBadRequest)
		default:
			slog.Error("webhook processing failed", "error", err)
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
}
