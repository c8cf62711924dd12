package delivery

import (
	"context"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-mailstatus/core"
)

// Input is a verified provider notification applied to the machine.
type Input string

const (
	InputDeliver    Input = "deliver"
	InputBounce     Input = "bounce"
	InputSoftBounce Input = "soft_bounce"
	InputComplain   Input = "complain"
)

func (i Input) Valid() bool {
	switch i {
	case InputDeliver, InputBounce, InputSoftBounce, InputComplain:
		return true
	default:
		return false
	}
}

// InputForEvent maps a notification kind (plus the bounce
// sub-classification) to a machine input. Only a permanent bounce is a
// hard bounce; transient and undetermined bounces are soft.
func InputForEvent(kind core.EventKind, bounceType core.BounceType) (Input, error) {
	switch kind {
	case core.EventKindDelivery:
		return InputDeliver, nil
	case core.EventKindBounce:
		if bounceType == core.BounceTypePermanent {
			return InputBounce, nil
		}
		return InputSoftBounce, nil
	case core.EventKindComplaint:
		return InputComplain, nil
	default:
		return "", core.NewUnknownKindError(string(kind))
	}
}

const defaultSoftBounceThreshold = 5

type transitionKey struct {
	from  core.DeliveryStatus
	input Input
}

type effectFunc func(ctx context.Context, m *Machine, handle core.RecipientHandle) error

type transition struct {
	to     core.DeliveryStatus
	effect effectFunc
}

// transitions is the full declared table. Pairs absent from it are
// undeclared: Apply reports them as an error and leaves the state
// untouched; it never silently no-ops.
var transitions = map[transitionKey]transition{
	{core.StatusAccepted, InputDeliver}:    {to: core.StatusDelivered, effect: resetCounter},
	{core.StatusAccepted, InputBounce}:     {to: core.StatusBounced, effect: hardBounce},
	{core.StatusAccepted, InputSoftBounce}: {to: core.StatusSoftBounced, effect: softBounce},

	{core.StatusSoftBounced, InputDeliver}:    {to: core.StatusDelivered, effect: resetCounter},
	{core.StatusSoftBounced, InputBounce}:     {to: core.StatusBounced, effect: hardBounce},
	{core.StatusSoftBounced, InputSoftBounce}: {to: core.StatusSoftBounced, effect: softBounce},

	{core.StatusDelivered, InputDeliver}:    {to: core.StatusDelivered},
	{core.StatusDelivered, InputSoftBounce}: {to: core.StatusDelivered},
	{core.StatusDelivered, InputBounce}:     {to: core.StatusBounced, effect: hardBounce},
	{core.StatusDelivered, InputComplain}:   {to: core.StatusComplained, effect: complaint},

	// A late delivery after a hard bounce resets the counter but never
	// restores the verified flag; re-verification is an explicit flow
	// elsewhere.
	{core.StatusBounced, InputDeliver}: {to: core.StatusDelivered, effect: resetCounter},
}

// Machine is a per-message delivery state machine. Load reconstructs it
// from a stored status without replaying effects; effects fire only on
// Apply.
type Machine struct {
	status    core.DeliveryStatus
	missing   bool
	directory core.RecipientDirectory
	threshold int
}

type Option func(*Machine)

// WithSoftBounceThreshold overrides the transient-bounce count above
// which a recipient is unverified.
func WithSoftBounceThreshold(threshold int) Option {
	return func(m *Machine) {
		if threshold > 0 {
			m.threshold = threshold
		}
	}
}

// WithRecipientMissing seeds the missing flag from the stored message so
// a previously failed recipient lookup is not retried.
func WithRecipientMissing(missing bool) Option {
	return func(m *Machine) {
		m.missing = missing
	}
}

func Load(status core.DeliveryStatus, directory core.RecipientDirectory, options ...Option) (*Machine, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("delivery: cannot load machine from status %q", status)
	}
	if directory == nil {
		return nil, fmt.Errorf("delivery: recipient directory is required")
	}
	machine := &Machine{
		status:    status,
		directory: directory,
		threshold: defaultSoftBounceThreshold,
	}
	for _, option := range options {
		option(machine)
	}
	return machine, nil
}

// Outcome describes a single applied transition.
type Outcome struct {
	From             core.DeliveryStatus
	To               core.DeliveryStatus
	Input            Input
	EffectApplied    bool
	RecipientMissing bool
}

// Apply runs one input against the current state. When the transition
// carries a side effect the recipient is resolved by address first; a
// failed lookup marks the machine missing and skips the effect while
// still performing the state change.
func (m *Machine) Apply(ctx context.Context, input Input, recipientAddress string) (Outcome, error) {
	if !input.Valid() {
		return Outcome{}, core.NewUnknownKindError(string(input))
	}
	declared, ok := transitions[transitionKey{from: m.status, input: input}]
	if !ok {
		return Outcome{}, newUndeclaredTransitionError(m.status, input)
	}

	outcome := Outcome{From: m.status, To: declared.to, Input: input}
	if declared.effect != nil && !m.missing {
		handle, found, err := m.directory.Find(ctx, recipientAddress)
		if err != nil {
			return Outcome{}, core.WrapInternalError(err, "delivery: recipient lookup failed", map[string]any{
				"address": recipientAddress,
			})
		}
		if !found {
			m.missing = true
		} else {
			if err := declared.effect(ctx, m, handle); err != nil {
				return Outcome{}, err
			}
			outcome.EffectApplied = true
		}
	}

	m.status = declared.to
	outcome.RecipientMissing = m.missing
	return outcome, nil
}

// Status returns the state to persist. Only the status enum is saved;
// nothing else about the machine survives a round trip.
func (m *Machine) Status() core.DeliveryStatus {
	return m.status
}

// RecipientMissing reports whether a recipient lookup has failed for
// this message.
func (m *Machine) RecipientMissing() bool {
	return m.missing
}

func resetCounter(ctx context.Context, m *Machine, handle core.RecipientHandle) error {
	return m.directory.ResetBounceCounter(ctx, handle)
}

func hardBounce(ctx context.Context, m *Machine, handle core.RecipientHandle) error {
	if err := m.directory.ResetBounceCounter(ctx, handle); err != nil {
		return err
	}
	return m.directory.MarkUnverified(ctx, handle, core.UnverifyReasonHardBounce)
}

// softBounce increments the counter and unverifies once it crosses the
// threshold. The counter is deliberately not reset here; only a
// successful delivery or a hard bounce resets it.
func softBounce(ctx context.Context, m *Machine, handle core.RecipientHandle) error {
	count, err := m.directory.IncrementBounceCounter(ctx, handle)
	if err != nil {
		return err
	}
	if count > m.threshold {
		return m.directory.MarkUnverified(ctx, handle, core.UnverifyReasonSoftBounce)
	}
	return nil
}

func complaint(ctx context.Context, m *Machine, handle core.RecipientHandle) error {
	return m.directory.MarkUnverified(ctx, handle, core.UnverifyReasonSpamComplaint)
}

func newUndeclaredTransitionError(from core.DeliveryStatus, input Input) error {
	return goerrors.New("delivery: no transition declared for state/input pair", goerrors.CategoryConflict).
		WithTextCode(core.ErrorCodeUndeclaredTransition).
		WithMetadata(map[string]any{
			"from":  string(from),
			"input": string(input),
		})
}

// IsUndeclaredTransition reports whether err is the undeclared-pair
// error. Callers acknowledge these to the provider after logging and
// metering, so a retry storm never forms around an unprocessable event.
func IsUndeclaredTransition(err error) bool {
	return core.HasErrorCode(err, core.ErrorCodeUndeclaredTransition)
}
