package command

import (
	"context"
	"net/http"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-mailstatus/core"
	"github.com/goliatone/go-mailstatus/dispatch"
	"github.com/goliatone/go-mailstatus/retention"
)

// NotificationService is the slice of the dispatcher the commands need.
type NotificationService interface {
	ConfirmSubscription(ctx context.Context, body []byte) error
	ProcessNotification(ctx context.Context, body []byte) (dispatch.NotificationResult, error)
}

type RetentionService interface {
	RunSweep(ctx context.Context) (retention.Report, error)
}

type ConfirmSubscriptionCommand struct {
	service NotificationService
}

func NewConfirmSubscriptionCommand(service NotificationService) *ConfirmSubscriptionCommand {
	return &ConfirmSubscriptionCommand{service: service}
}

func (c *ConfirmSubscriptionCommand) Execute(ctx context.Context, msg ConfirmSubscriptionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: notification service is required")
	}
	return c.service.ConfirmSubscription(ctx, msg.Body)
}

type ProcessNotificationCommand struct {
	service NotificationService
}

func NewProcessNotificationCommand(service NotificationService) *ProcessNotificationCommand {
	return &ProcessNotificationCommand{service: service}
}

func (c *ProcessNotificationCommand) Execute(ctx context.Context, msg ProcessNotificationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: notification service is required")
	}
	out, err := c.service.ProcessNotification(ctx, msg.Body)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RunRetentionSweepCommand struct {
	service RetentionService
}

func NewRunRetentionSweepCommand(service RetentionService) *RunRetentionSweepCommand {
	return &RunRetentionSweepCommand{service: service}
}

func (c *RunRetentionSweepCommand) Execute(ctx context.Context, msg RunRetentionSweepMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: retention service is required")
	}
	out, err := c.service.RunSweep(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func commandDependencyError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ErrorCodeInternal)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
