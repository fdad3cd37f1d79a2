// Package opa delegates authorization decisions to an Open Policy Agent
// instance. Policies decide, for example, which roles may hit the purchase
// endpoints; the service itself carries no authorization rules.
package opa

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// ClaimsFunc extracts the verified token claims the auth middleware stored
// in the request context.
type ClaimsFunc func(ctx context.Context) (map[string]interface{}, bool)

// Middleware queries OPA for every request it wraps.
type Middleware struct {
	opaURL string
	claims ClaimsFunc
	logger *slog.Logger
	client *http.Client
}

func NewMiddleware(opaURL string, claims ClaimsFunc, logger *slog.Logger) *Middleware {
	return &Middleware{
		opaURL: opaURL,
		claims: claims,
		logger: logger,
		client: &http.Client{Timeout: 500 * time.Millisecond},
	}
}

// Input is the document OPA evaluates the policy against.
type Input struct {
	Method string                 `json:"method"`
	Path   string                 `json:"path"`
	User   map[string]interface{} `json:"user"`
}

type opaResponse struct {
	Allow bool `json:"allow"`
}

// Authorize asks OPA whether the authenticated caller may perform the
// request. The auth middleware must have run first to populate claims.
func (m *Middleware) Authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := m.claims(r.Context())
		if !ok {
			http.Error(w, "Claims not found in context", http.StatusInternalServerError)
			return
		}

		input := Input{
			Method: r.Method,
			Path:   r.URL.Path,
			User:   claims,
		}

		inputBytes, err := json.Marshal(map[string]interface{}{"input": input})
		if err != nil {
			m.logger.Error("failed to build OPA request", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		// The URL typically looks like http://opa:8181/v1/data/payments/authz
		req, err := http.NewRequestWithContext(r.Context(), "POST", m.opaURL, bytes.NewBuffer(inputBytes))
		if err != nil {
			m.logger.Error("failed to build OPA request", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := m.client.Do(req)
		if err != nil {
			m.logger.Error("error reaching OPA", "error", err)
			http.Error(w, "Authorization service unavailable", http.StatusServiceUnavailable)
			return
		}
		defer resp.Body.Close()

		var decision opaResponse
		if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
			m.logger.Error("failed to decode OPA response", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		if !decision.Allow {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
