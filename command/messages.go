package command

import (
	"fmt"
	"time"
)

const (
	TypeConfirmSubscription = "mailstatus.command.subscription.confirm"
	TypeProcessNotification = "mailstatus.command.notification.process"
	TypeRunRetentionSweep   = "mailstatus.command.retention.sweep"
)

type ConfirmSubscriptionMessage struct {
	Body []byte
}

func (ConfirmSubscriptionMessage) Type() string { return TypeConfirmSubscription }

func (m ConfirmSubscriptionMessage) Validate() error {
	if len(m.Body) == 0 {
		return fmt.Errorf("command: confirmation body is required")
	}
	return nil
}

type ProcessNotificationMessage struct {
	Body []byte
}

func (ProcessNotificationMessage) Type() string { return TypeProcessNotification }

func (m ProcessNotificationMessage) Validate() error {
	if len(m.Body) == 0 {
		return fmt.Errorf("command: notification body is required")
	}
	return nil
}

type RunRetentionSweepMessage struct {
	ScheduledFor time.Time
}

func (RunRetentionSweepMessage) Type() string { return TypeRunRetentionSweep }

func (m RunRetentionSweepMessage) Validate() error {
	if m.ScheduledFor.IsZero() {
		return fmt.Errorf("command: sweep schedule time is required")
	}
	return nil
}
