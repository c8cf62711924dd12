package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/goliatone/go-mailstatus/core"
	"github.com/goliatone/go-mailstatus/sns"
)

const (
	testTopicARN = "arn:aws:sns:us-east-1:123456789012:mail-events"
	testAddress  = "recipient@example.com"
)

type stubVerifier struct {
	err   error
	calls int
}

func (v *stubVerifier) Verify(context.Context, sns.Payload) error {
	v.calls++
	return v.err
}

type stubConfirmer struct {
	topicARN string
	token    string
	err      error
	calls    int
}

func (c *stubConfirmer) ConfirmSubscription(_ context.Context, topicARN, token string) error {
	c.calls++
	c.topicARN = topicARN
	c.token = token
	return c.err
}

type recordingMetrics struct {
	counters map[string]int64
}

func (m *recordingMetrics) IncCounter(_ context.Context, name string, value int64, _ map[string]string) {
	if m.counters == nil {
		m.counters = map[string]int64{}
	}
	m.counters[name] += value
}

func (m *recordingMetrics) ObserveHistogram(context.Context, string, float64, map[string]string) {}

type fixture struct {
	dispatcher *Dispatcher
	verifier   *stubVerifier
	confirmer  *stubConfirmer
	messages   *core.InMemoryMessageStore
	events     *core.InMemoryEventStore
	directory  *core.InMemoryRecipientDirectory
	metrics    *recordingMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		verifier:  &stubVerifier{},
		confirmer: &stubConfirmer{},
		messages:  core.NewInMemoryMessageStore(),
		events:    core.NewInMemoryEventStore(),
		directory: core.NewInMemoryRecipientDirectory(),
		metrics:   &recordingMetrics{},
	}
	f.directory.Put(core.Recipient{Address: testAddress, Verified: true})

	dispatcher, err := NewDispatcher(f.verifier, f.messages, f.events, f.directory, f.confirmer, WithMetrics(f.metrics))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	f.dispatcher = dispatcher
	return f
}

func (f *fixture) createMessage(t *testing.T, providerMessageID string) core.Message {
	t.Helper()
	message, err := f.messages.Create(context.Background(), core.CreateMessageInput{
		ProviderMessageID: providerMessageID,
		From:              "sender@example.com",
		To:                testAddress,
		Subject:           "hello",
	})
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	return message
}

func notificationBody(t *testing.T, eventID, providerMessageID, notificationType string, extra map[string]any) []byte {
	t.Helper()
	inner := map[string]any{
		"notificationType": notificationType,
		"mail":             map[string]any{"messageId": providerMessageID},
	}
	for key, value := range extra {
		inner[key] = value
	}
	innerJSON, err := json.Marshal(inner)
	if err != nil {
		t.Fatalf("marshal inner document: %v", err)
	}
	body, err := json.Marshal(map[string]any{
		"Type":             sns.TypeNotification,
		"MessageId":        eventID,
		"TopicArn":         testTopicARN,
		"Message":          string(innerJSON),
		"Timestamp":        "2026-03-14T12:00:00.000000Z",
		"SignatureVersion": "2",
		"Signature":        "c2lnbmF0dXJl",
		"SigningCertURL":   "https://sns.us-east-1.amazonaws.com/cert.pem",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return body
}

func deliveryBody(t *testing.T, eventID, providerMessageID string) []byte {
	return notificationBody(t, eventID, providerMessageID, "Delivery", map[string]any{
		"delivery": map[string]any{"recipients": []string{testAddress}},
	})
}

func bounceBody(t *testing.T, eventID, providerMessageID, bounceType string) []byte {
	return notificationBody(t, eventID, providerMessageID, "Bounce", map[string]any{
		"bounce": map[string]any{"bounceType": bounceType},
	})
}

func TestDispatcher_ConfirmSubscription(t *testing.T) {
	f := newFixture(t)
	body, _ := json.Marshal(map[string]any{
		"Type":             sns.TypeSubscriptionConfirmation,
		"MessageId":        "conf-1",
		"TopicArn":         testTopicARN,
		"Token":            "token-abc",
		"Message":          "You have chosen to subscribe",
		"SubscribeURL":     "https://sns.us-east-1.amazonaws.com/confirm",
		"Timestamp":        "2026-03-14T12:00:00.000000Z",
		"SignatureVersion": "2",
		"Signature":        "c2lnbmF0dXJl",
		"SigningCertURL":   "https://sns.us-east-1.amazonaws.com/cert.pem",
	})

	if err := f.dispatcher.ConfirmSubscription(context.Background(), body); err != nil {
		t.Fatalf("confirm subscription: %v", err)
	}
	if f.confirmer.calls != 1 {
		t.Fatalf("confirmer calls = %d, want 1", f.confirmer.calls)
	}
	if f.confirmer.topicARN != testTopicARN || f.confirmer.token != "token-abc" {
		t.Fatalf("confirmer received (%q, %q)", f.confirmer.topicARN, f.confirmer.token)
	}
}

func TestDispatcher_ConfirmSubscriptionRejectsOtherTypes(t *testing.T) {
	f := newFixture(t)
	body := deliveryBody(t, "evt-1", "pm-1")

	err := f.dispatcher.ConfirmSubscription(context.Background(), body)
	if !core.HasErrorCode(err, core.ErrorCodeFormat) {
		t.Fatalf("expected format error, got %v", err)
	}
	if f.confirmer.calls != 0 {
		t.Fatal("confirmer must not be called for a non-confirmation payload")
	}
}

func TestDispatcher_ProcessDelivery(t *testing.T) {
	f := newFixture(t)
	f.createMessage(t, "pm-1")
	f.directory.Put(core.Recipient{Address: testAddress, Verified: true, TransientBounces: 3})

	result, err := f.dispatcher.ProcessNotification(context.Background(), deliveryBody(t, "evt-1", "pm-1"))
	if err != nil {
		t.Fatalf("process notification: %v", err)
	}
	if result.Duplicate || result.Undeclared {
		t.Fatalf("unexpected result flags: %+v", result)
	}
	if result.Status != core.StatusDelivered {
		t.Fatalf("status = %s, want %s", result.Status, core.StatusDelivered)
	}

	stored, found, err := f.messages.GetByProviderMessageID(context.Background(), "pm-1")
	if err != nil || !found {
		t.Fatalf("lookup stored message: found=%v err=%v", found, err)
	}
	if stored.Status != core.StatusDelivered {
		t.Fatalf("persisted status = %s, want %s", stored.Status, core.StatusDelivered)
	}
	recipient, _ := f.directory.Get(testAddress)
	if recipient.TransientBounces != 0 {
		t.Fatalf("delivery must reset the bounce counter, got %d", recipient.TransientBounces)
	}

	event, found, err := f.events.GetByProviderEventID(context.Background(), "evt-1")
	if err != nil || !found {
		t.Fatalf("lookup event: found=%v err=%v", found, err)
	}
	if event.Kind != core.EventKindDelivery {
		t.Fatalf("event kind = %s, want %s", event.Kind, core.EventKindDelivery)
	}
}

func TestDispatcher_DuplicateEventIsSuccessNoOp(t *testing.T) {
	f := newFixture(t)
	message := f.createMessage(t, "pm-1")

	body := bounceBody(t, "evt-1", "pm-1", "Transient")
	if _, err := f.dispatcher.ProcessNotification(context.Background(), body); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	result, err := f.dispatcher.ProcessNotification(context.Background(), body)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !result.Duplicate {
		t.Fatal("redelivery must report a duplicate")
	}

	events, err := f.events.ListByMessageID(context.Background(), message.ID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("event rows = %d, want 1", len(events))
	}
	recipient, _ := f.directory.Get(testAddress)
	if recipient.TransientBounces != 1 {
		t.Fatalf("bounce counter = %d, want 1 application", recipient.TransientBounces)
	}
}

func TestDispatcher_VerificationFailureIsAuthentication(t *testing.T) {
	f := newFixture(t)
	f.createMessage(t, "pm-1")
	f.verifier.err = fmt.Errorf("signature does not match")

	_, err := f.dispatcher.ProcessNotification(context.Background(), deliveryBody(t, "evt-1", "pm-1"))
	if !core.HasErrorCode(err, core.ErrorCodeAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if core.HTTPStatus(err) != 400 {
		t.Fatalf("http status = %d, want 400", core.HTTPStatus(err))
	}
	if f.events.Len() != 0 {
		t.Fatal("no event may be recorded for an unverified payload")
	}
}

func TestDispatcher_CertificateOutageIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.createMessage(t, "pm-1")
	f.verifier.err = sns.NewCertificateUnavailableError(nil, "fetch timed out", nil)

	_, err := f.dispatcher.ProcessNotification(context.Background(), deliveryBody(t, "evt-1", "pm-1"))
	if !core.IsRetryable(err) {
		t.Fatalf("expected retryable upstream error, got %v", err)
	}
	if core.HTTPStatus(err) != 503 {
		t.Fatalf("http status = %d, want 503", core.HTTPStatus(err))
	}
}

func TestDispatcher_UnknownMessage(t *testing.T) {
	f := newFixture(t)

	_, err := f.dispatcher.ProcessNotification(context.Background(), deliveryBody(t, "evt-1", "pm-missing"))
	if !core.HasErrorCode(err, core.ErrorCodeUnknownMessage) {
		t.Fatalf("expected unknown-message, got %v", err)
	}
}

func TestDispatcher_UnknownNotificationKind(t *testing.T) {
	f := newFixture(t)
	f.createMessage(t, "pm-1")

	body := notificationBody(t, "evt-1", "pm-1", "Receipt", nil)
	_, err := f.dispatcher.ProcessNotification(context.Background(), body)
	if !core.HasErrorCode(err, core.ErrorCodeUnknownKind) {
		t.Fatalf("expected unknown-kind, got %v", err)
	}
	if f.events.Len() != 0 {
		t.Fatal("no event may be recorded for an unknown kind")
	}
}

func TestDispatcher_UndeclaredTransitionIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	message := f.createMessage(t, "pm-1")
	if err := f.messages.UpdateStatus(context.Background(), message.ID, core.StatusComplained, false); err != nil {
		t.Fatalf("seed status: %v", err)
	}

	result, err := f.dispatcher.ProcessNotification(context.Background(), deliveryBody(t, "evt-1", "pm-1"))
	if err != nil {
		t.Fatalf("undeclared pair must still acknowledge, got %v", err)
	}
	if !result.Undeclared {
		t.Fatal("result must flag the undeclared transition")
	}

	stored, _, _ := f.messages.GetByProviderMessageID(context.Background(), "pm-1")
	if stored.Status != core.StatusComplained {
		t.Fatalf("status changed to %s on an undeclared pair", stored.Status)
	}
	if _, found, _ := f.events.GetByProviderEventID(context.Background(), "evt-1"); !found {
		t.Fatal("the event must still be recorded")
	}
	if f.metrics.counters["mailstatus.notification.undeclared_transition"] != 1 {
		t.Fatal("undeclared transitions must be metered")
	}
}

func TestDispatcher_MissingRecipientFlagPersists(t *testing.T) {
	f := newFixture(t)
	if _, err := f.messages.Create(context.Background(), core.CreateMessageInput{
		ProviderMessageID: "pm-1",
		From:              "sender@example.com",
		To:                "nobody@example.com",
		Subject:           "hello",
	}); err != nil {
		t.Fatalf("create message: %v", err)
	}

	if _, err := f.dispatcher.ProcessNotification(context.Background(), bounceBody(t, "evt-1", "pm-1", "Permanent")); err != nil {
		t.Fatalf("process notification: %v", err)
	}

	stored, _, _ := f.messages.GetByProviderMessageID(context.Background(), "pm-1")
	if !stored.Missing {
		t.Fatal("missing flag must persist after a failed recipient lookup")
	}
	if stored.Status != core.StatusBounced {
		t.Fatalf("status = %s, want %s despite the missing recipient", stored.Status, core.StatusBounced)
	}
}

func TestDispatcher_EndToEndScenario(t *testing.T) {
	f := newFixture(t)
	message := f.createMessage(t, "pm-1")

	// e1: delivery.
	result, err := f.dispatcher.ProcessNotification(context.Background(), deliveryBody(t, "e1", "pm-1"))
	if err != nil {
		t.Fatalf("e1: %v", err)
	}
	if result.Status != core.StatusDelivered {
		t.Fatalf("e1 status = %s, want %s", result.Status, core.StatusDelivered)
	}
	recipient, _ := f.directory.Get(testAddress)
	if recipient.TransientBounces != 0 || !recipient.Verified {
		t.Fatalf("e1 recipient = %+v", recipient)
	}

	// e2: transient bounce.
	result, err = f.dispatcher.ProcessNotification(context.Background(), bounceBody(t, "e2", "pm-1", "Transient"))
	if err != nil {
		t.Fatalf("e2: %v", err)
	}
	if result.Undeclared {
		t.Fatal("e2: delivered + soft bounce is a declared no-op pair")
	}
	stored, _, _ := f.messages.GetByProviderMessageID(context.Background(), "pm-1")
	if stored.Status != core.StatusDelivered {
		t.Fatalf("e2 status = %s, want %s", stored.Status, core.StatusDelivered)
	}
	recipient, _ = f.directory.Get(testAddress)
	if recipient.TransientBounces != 0 || !recipient.Verified {
		t.Fatalf("e2 recipient = %+v", recipient)
	}

	// e3: permanent bounce.
	result, err = f.dispatcher.ProcessNotification(context.Background(), bounceBody(t, "e3", "pm-1", "Permanent"))
	if err != nil {
		t.Fatalf("e3: %v", err)
	}
	if result.Status != core.StatusBounced {
		t.Fatalf("e3 status = %s, want %s", result.Status, core.StatusBounced)
	}
	recipient, _ = f.directory.Get(testAddress)
	if recipient.Verified || recipient.TransientBounces != 0 || recipient.UnverifyReason != core.UnverifyReasonHardBounce {
		t.Fatalf("e3 recipient = %+v", recipient)
	}

	// Redelivering e3 is a pure no-op.
	result, err = f.dispatcher.ProcessNotification(context.Background(), bounceBody(t, "e3", "pm-1", "Permanent"))
	if err != nil {
		t.Fatalf("e3 redelivery: %v", err)
	}
	if !result.Duplicate {
		t.Fatal("e3 redelivery must report a duplicate")
	}
	events, _ := f.events.ListByMessageID(context.Background(), message.ID)
	if len(events) != 3 {
		t.Fatalf("event rows = %d, want 3", len(events))
	}
}
