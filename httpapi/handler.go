package httpapi

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-mailstatus/core"
	"github.com/goliatone/go-mailstatus/dispatch"
)

// MessageTypeHeader carries the provider's payload sub-type so routing
// happens before the body is parsed.
const MessageTypeHeader = "x-amz-sns-message-type"

const maxBodyBytes = 1 << 20

// NotificationDispatcher is the slice of the dispatcher the webhook
// handler needs.
type NotificationDispatcher interface {
	ConfirmSubscription(ctx context.Context, body []byte) error
	ProcessNotification(ctx context.Context, body []byte) (dispatch.NotificationResult, error)
}

// WebhookHandler terminates the provider's HTTP callbacks.
type WebhookHandler struct {
	dispatcher NotificationDispatcher
	logger     core.Logger
}

func NewWebhookHandler(dispatcher NotificationDispatcher, logger core.Logger) *WebhookHandler {
	return &WebhookHandler{
		dispatcher: dispatcher,
		logger:     glog.Ensure(logger),
	}
}

// Routes mounts the webhook endpoint on a fresh router.
func (h *WebhookHandler) Routes() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Post("/webhooks/email-events", h.ServeWebhook)
	return router
}

// ServeWebhook routes by the provider's message-type header. Success,
// duplicate redelivery, and undeclared transitions all answer 200; only
// a transient certificate outage answers 503 so the provider retries.
func (h *WebhookHandler) ServeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.respondError(w, r, core.WrapFormatError(err, "httpapi: reading request body failed", nil))
		return
	}

	switch r.Header.Get(MessageTypeHeader) {
	case "SubscriptionConfirmation":
		if err := h.dispatcher.ConfirmSubscription(r.Context(), body); err != nil {
			h.respondError(w, r, err)
			return
		}
	case "Notification":
		if _, err := h.dispatcher.ProcessNotification(r.Context(), body); err != nil {
			h.respondError(w, r, err)
			return
		}
	case "UnsubscribeConfirmation":
		// Nothing to do; acknowledging stops the provider from retrying.
		h.logger.Info("unsubscribe confirmation acknowledged")
	default:
		h.respondError(w, r, core.NewFormatError("httpapi: unsupported message type header", map[string]any{
			"message_type": r.Header.Get(MessageTypeHeader),
		}))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *WebhookHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := core.HTTPStatus(err)
	reason := "internal error"
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && status != http.StatusInternalServerError {
		reason = richErr.Message
	}

	h.logger.Error("webhook request failed",
		"error", err,
		"status", status,
		"message_type", r.Header.Get(MessageTypeHeader),
	)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(reason))
}
