package http

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
)

// SignatureHeader carries the gateway's HMAC of the webhook body.
const SignatureHeader = "X-Gateway-Signature"

const maxWebhookBody = 1 << 20

// GatewaySignatureMiddleware authenticates webhook deliveries: the gateway
// signs the raw request body with a shared secret (HMAC-SHA256, hex). A bad
// or missing signature is a hard rejection with no state change.
func GatewaySignatureMiddleware(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
			if err != nil {
				writeJSONError(w, "failed to read request body", http.StatusBadRequest)
				return
			}
			_ = r.Body.Close()

			provided, err := hex.DecodeString(r.Header.Get(SignatureHeader))
			if err != nil || len(provided) == 0 {
				writeJSONError(w, "missing or malformed signature", http.StatusUnauthorized)
				return
			}

			mac := hmac.New(sha256.New, key)
			mac.Write(body)
			if !hmac.Equal(mac.Sum(nil), provided) {
				logger.Warn("webhook signature mismatch", "remote", r.RemoteAddr)
				writeJSONError(w, "invalid signature", http.StatusUnauthorized)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

// SignWebhookBody computes the signature the gateway is expected to send.
// Shared with tests and the load generator.
func SignWebhookBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
