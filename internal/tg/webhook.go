package tg

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Titusvirous/ToxicInfoBot/internal/metrics"
)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookHandler receives updates pushed by Telegram and forwards them to a
// Dispatcher. Once the request is authenticated it always answers 200 so
// Telegram does not redeliver updates that failed to decode.
type WebhookHandler struct {
	logger     *slog.Logger
	metrics    *metrics.Metrics
	secret     string
	dispatcher *Dispatcher
}

// NewWebhookHandler creates a new webhook handler. An empty secret disables
// the header check.
func NewWebhookHandler(logger *slog.Logger, m *metrics.Metrics, secret string, dispatcher *Dispatcher) *WebhookHandler {
	return &WebhookHandler{
		logger:     logger.With("component", "tg_webhook"),
		metrics:    m,
		secret:     secret,
		dispatcher: dispatcher,
	}
}

// ServeHTTP satisfies http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.secret != "" {
		got := r.Header.Get(secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			h.countError("tg_webhook_auth")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.logger.Warn("failed reading webhook body", "error", err)
		h.countError("tg_webhook")
		writeOK(w)
		return
	}

	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		h.logger.Warn("failed decoding webhook update", "error", err)
		h.countError("tg_webhook_decode")
		writeOK(w)
		return
	}

	if msg, ok := messageFromUpdate(update); ok {
		if err := h.dispatcher.Submit(msg); err != nil {
			h.logger.Warn("update not dispatched", "update_id", update.UpdateID, "error", err)
		}
	}
	writeOK(w)
}

func (h *WebhookHandler) countError(component string) {
	if h.metrics != nil {
		h.metrics.Errors.WithLabelValues(component).Inc()
	}
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
