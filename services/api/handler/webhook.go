package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/NeilDarrenLtd/zarzoom-core/internal/billing"
)

// ProviderSignatureHeader is where the payment provider puts its signature.
const ProviderSignatureHeader = "Webhook-Signature"

// Webhook handles inbound payment provider deliveries.
type Webhook struct {
	gate   *billing.Gate
	logger *slog.Logger
}

// NewWebhook creates the provider webhook handler.
func NewWebhook(gate *billing.Gate, logger *slog.Logger) *Webhook {
	return &Webhook{gate: gate, logger: logger}
}

// Receive handles POST /webhooks/billing. The body is read raw and passed to
// the gate untouched: any re-serialization would break signature checks.
func (h *Webhook) Receive(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	res, err := h.gate.Ingest(r.Context(), rawBody, r.Header.Get(ProviderSignatureHeader))
	if err != nil {
		if errors.Is(err, billing.ErrBadSignature) {
			writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}
		// The dedup record could not be written; a retry may succeed.
		h.logger.Error("webhook ingest failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to record event")
		return
	}

	resp := map[string]any{"received": true}
	if res.Deduplicated {
		resp["deduplicated"] = true
	}
	writeJSON(w, http.StatusOK, resp)
}
