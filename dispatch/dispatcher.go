package dispatch

import (
	"context"
	"fmt"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-mailstatus/core"
	"github.com/goliatone/go-mailstatus/delivery"
	"github.com/goliatone/go-mailstatus/sns"
)

// Verifier authenticates an inbound payload before anything is read
// from it.
type Verifier interface {
	Verify(ctx context.Context, payload sns.Payload) error
}

// Dispatcher is the webhook entry point: it authenticates payloads,
// routes subscription confirmations, enforces event idempotency, and
// drives the delivery state machine for notifications.
type Dispatcher struct {
	verifier  Verifier
	messages  core.MessageStore
	events    core.EventStore
	directory core.RecipientDirectory
	confirmer core.SubscriptionConfirmer

	logger    core.Logger
	metrics   core.MetricsRecorder
	threshold int
}

type Option func(*Dispatcher)

func WithLogger(logger core.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(d *Dispatcher) {
		if metrics != nil {
			d.metrics = metrics
		}
	}
}

func WithSoftBounceThreshold(threshold int) Option {
	return func(d *Dispatcher) {
		if threshold > 0 {
			d.threshold = threshold
		}
	}
}

func NewDispatcher(
	verifier Verifier,
	messages core.MessageStore,
	events core.EventStore,
	directory core.RecipientDirectory,
	confirmer core.SubscriptionConfirmer,
	options ...Option,
) (*Dispatcher, error) {
	if verifier == nil {
		return nil, fmt.Errorf("dispatch: verifier is required")
	}
	if messages == nil {
		return nil, fmt.Errorf("dispatch: message store is required")
	}
	if events == nil {
		return nil, fmt.Errorf("dispatch: event store is required")
	}
	if directory == nil {
		return nil, fmt.Errorf("dispatch: recipient directory is required")
	}
	if confirmer == nil {
		return nil, fmt.Errorf("dispatch: subscription confirmer is required")
	}
	dispatcher := &Dispatcher{
		verifier:  verifier,
		messages:  messages,
		events:    events,
		directory: directory,
		confirmer: confirmer,
		logger:    glog.Ensure(nil),
		metrics:   core.NopMetricsRecorder{},
	}
	for _, option := range options {
		option(dispatcher)
	}
	return dispatcher, nil
}

// ConfirmSubscription verifies a SubscriptionConfirmation payload and
// completes the handshake with the provider.
func (d *Dispatcher) ConfirmSubscription(ctx context.Context, body []byte) error {
	payload, err := sns.ParsePayload(body)
	if err != nil {
		return core.WrapFormatError(err, "dispatch: confirmation body is not valid JSON", nil)
	}
	if payload.Type != sns.TypeSubscriptionConfirmation {
		return core.NewFormatError("dispatch: expected a subscription confirmation payload", map[string]any{
			"type": payload.Type,
		})
	}
	if err := d.verify(ctx, payload); err != nil {
		return err
	}
	if err := d.confirmer.ConfirmSubscription(ctx, payload.TopicARN, payload.Token); err != nil {
		return err
	}
	d.logger.Info("subscription confirmed", "topic_arn", payload.TopicARN)
	d.metrics.IncCounter(ctx, "mailstatus.subscription.confirmed", 1, nil)
	return nil
}

// NotificationResult reports what processing a notification did.
type NotificationResult struct {
	MessageID         string
	ProviderMessageID string
	ProviderEventID   string
	Status            core.DeliveryStatus
	// Duplicate is true when the event id was already recorded and
	// nothing was re-applied.
	Duplicate bool
	// Undeclared is true when the state/input pair has no declared
	// transition; the event is recorded but the status is unchanged.
	Undeclared bool
}

// ProcessNotification authenticates and applies one Notification
// payload. Redelivery of an already-recorded event id is a success
// no-op. The event row is inserted before the state machine runs: the
// uniqueness constraint on the provider event id is the idempotency
// claim that keeps concurrent redeliveries from applying twice.
func (d *Dispatcher) ProcessNotification(ctx context.Context, body []byte) (NotificationResult, error) {
	started := time.Now()

	payload, err := sns.ParsePayload(body)
	if err != nil {
		return NotificationResult{}, core.WrapFormatError(err, "dispatch: notification body is not valid JSON", nil)
	}
	if payload.Type != sns.TypeNotification {
		return NotificationResult{}, core.NewFormatError("dispatch: expected a notification payload", map[string]any{
			"type": payload.Type,
		})
	}
	if err := d.verify(ctx, payload); err != nil {
		return NotificationResult{}, err
	}

	envelope, err := ParseEnvelope(payload.Message)
	if err != nil {
		return NotificationResult{}, err
	}

	result := NotificationResult{
		ProviderMessageID: envelope.ProviderMessageID,
		ProviderEventID:   payload.MessageID,
	}

	if _, found, err := d.events.GetByProviderEventID(ctx, payload.MessageID); err != nil {
		return NotificationResult{}, core.WrapInternalError(err, "dispatch: event lookup failed", nil)
	} else if found {
		message, ok, err := d.messages.GetByProviderMessageID(ctx, envelope.ProviderMessageID)
		if err == nil && ok {
			result.MessageID = message.ID
			result.Status = message.Status
		}
		result.Duplicate = true
		d.metrics.IncCounter(ctx, "mailstatus.notification.duplicate", 1, nil)
		return result, nil
	}

	message, found, err := d.messages.GetByProviderMessageID(ctx, envelope.ProviderMessageID)
	if err != nil {
		return NotificationResult{}, core.WrapInternalError(err, "dispatch: message lookup failed", nil)
	}
	if !found {
		return NotificationResult{}, core.NewUnknownMessageError(envelope.ProviderMessageID)
	}
	result.MessageID = message.ID
	result.Status = message.Status

	input, err := delivery.InputForEvent(envelope.Kind, envelope.BounceType)
	if err != nil {
		return NotificationResult{}, err
	}

	_, created, err := d.events.Append(ctx, core.AppendEventInput{
		MessageID:       message.ID,
		ProviderEventID: payload.MessageID,
		Kind:            envelope.Kind,
		Payload:         envelope.Detail,
	})
	if err != nil {
		return NotificationResult{}, core.WrapInternalError(err, "dispatch: event append failed", nil)
	}
	if !created {
		result.Duplicate = true
		d.metrics.IncCounter(ctx, "mailstatus.notification.duplicate", 1, nil)
		return result, nil
	}

	machine, err := delivery.Load(message.Status, d.directory,
		delivery.WithSoftBounceThreshold(d.threshold),
		delivery.WithRecipientMissing(message.Missing),
	)
	if err != nil {
		return NotificationResult{}, core.WrapInternalError(err, "dispatch: state machine load failed", nil)
	}
	outcome, err := machine.Apply(ctx, input, message.To)
	if err != nil {
		if delivery.IsUndeclaredTransition(err) {
			// The event stays recorded and the provider gets a success
			// response; surfacing an error here would only trigger a
			// retry storm against an unprocessable event.
			d.logger.Error("undeclared delivery transition",
				"error", err,
				"provider_event_id", payload.MessageID,
				"provider_message_id", envelope.ProviderMessageID,
				"status", string(message.Status),
				"input", string(input),
			)
			d.metrics.IncCounter(ctx, "mailstatus.notification.undeclared_transition", 1, map[string]string{
				"status": string(message.Status),
				"input":  string(input),
			})
			result.Undeclared = true
			return result, nil
		}
		return NotificationResult{}, err
	}

	if err := d.messages.UpdateStatus(ctx, message.ID, machine.Status(), machine.RecipientMissing()); err != nil {
		return NotificationResult{}, core.WrapInternalError(err, "dispatch: status update failed", map[string]any{
			"message_id": message.ID,
		})
	}
	result.Status = machine.Status()

	d.logger.Info("notification applied",
		"provider_event_id", payload.MessageID,
		"provider_message_id", envelope.ProviderMessageID,
		"from", string(outcome.From),
		"to", string(outcome.To),
		"input", string(input),
		"recipient_missing", outcome.RecipientMissing,
	)
	d.metrics.IncCounter(ctx, "mailstatus.notification.processed", 1, map[string]string{
		"kind": string(envelope.Kind),
		"to":   string(outcome.To),
	})
	d.metrics.ObserveHistogram(ctx, "mailstatus.notification.duration_ms", float64(time.Since(started).Milliseconds()), nil)
	return result, nil
}

// verify classifies verification failures: a signing-certificate outage
// is retryable for the provider, anything else is a terminal
// authentication rejection worth alerting on.
func (d *Dispatcher) verify(ctx context.Context, payload sns.Payload) error {
	err := d.verifier.Verify(ctx, payload)
	if err == nil {
		return nil
	}
	if sns.IsCertificateUnavailable(err) {
		return core.WrapUpstreamUnavailableError(err, "dispatch: signing certificate unavailable", nil)
	}
	d.logger.Error("payload verification failed",
		"error", err,
		"topic_arn", payload.TopicARN,
		"type", payload.Type,
	)
	d.metrics.IncCounter(ctx, "mailstatus.notification.rejected", 1, nil)
	return core.WrapAuthenticationError(err, "dispatch: payload verification failed", nil)
}
