package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ConfirmSubscriptionMessage] = (*ConfirmSubscriptionCommand)(nil)
	_ gocmd.Commander[ProcessNotificationMessage] = (*ProcessNotificationCommand)(nil)
	_ gocmd.Commander[RunRetentionSweepMessage]   = (*RunRetentionSweepCommand)(nil)
)
