//go:build linux

package alerts

import (
	"fmt"
	"os/exec"

	"go.uber.org/zap"
)

// NotifySendNotifier sends Linux desktop notifications via notify-send.
// Notifications are sent in a background goroutine so trackers never wait
// on notification delivery.
type NotifySendNotifier struct {
	enabled bool
	logger  *zap.Logger
}

// NewNotifySendNotifier creates a new Linux notification sender.
// If enabled is false, notifications are silently dropped.
func NewNotifySendNotifier(enabled bool, logger *zap.Logger) *NotifySendNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifySendNotifier{enabled: enabled, logger: logger}
}

// NewPlatformNotifier creates the platform-appropriate notifier for Linux.
func NewPlatformNotifier(enabled bool, logger *zap.Logger) Notifier {
	return NewNotifySendNotifier(enabled, logger)
}

func (n *NotifySendNotifier) Notify(alert Alert) {
	if !n.enabled {
		return
	}

	title := fmt.Sprintf("durtop: %s", alert.Rule)
	body := alert.Message
	if alert.Subject != "" {
		body = fmt.Sprintf("%s\n%s", truncateSubject(alert.Subject), alert.Message)
	}

	urgency := "normal"
	if alert.Severity == SeverityCritical {
		urgency = "critical"
	}

	go func() {
		if err := sendNotifySend(title, body, urgency); err != nil {
			n.logger.Warn("failed to send desktop notification", zap.Error(err))
		}
	}()
}

func sendNotifySend(title, body, urgency string) error {
	cmd := exec.Command("notify-send", "--urgency", urgency, "--app-name", "durtop", title, body)
	return cmd.Run()
}
