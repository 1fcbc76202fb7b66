//go:build darwin

package alerts

import (
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// OSAScriptNotifier sends macOS system notifications via osascript.
type OSAScriptNotifier struct {
	enabled bool
	logger  *zap.Logger
}

// NewOSAScriptNotifier creates a new macOS notification sender.
// If enabled is false, notifications are silently dropped.
func NewOSAScriptNotifier(enabled bool, logger *zap.Logger) *OSAScriptNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OSAScriptNotifier{enabled: enabled, logger: logger}
}

// NewPlatformNotifier creates the platform-appropriate notifier for macOS.
func NewPlatformNotifier(enabled bool, logger *zap.Logger) Notifier {
	return NewOSAScriptNotifier(enabled, logger)
}

func (n *OSAScriptNotifier) Notify(alert Alert) {
	if !n.enabled {
		return
	}

	title := fmt.Sprintf("durtop: %s", alert.Rule)
	subtitle := truncateSubject(alert.Subject)
	message := alert.Message

	go func() {
		if err := sendOSANotification(title, subtitle, message); err != nil {
			n.logger.Warn("failed to send macOS notification", zap.Error(err))
		}
	}()
}

func sendOSANotification(title, subtitle, message string) error {
	title = escapeAppleScript(title)
	subtitle = escapeAppleScript(subtitle)
	message = escapeAppleScript(message)

	script := fmt.Sprintf(
		`display notification "%s" with title "%s"`,
		message, title,
	)
	if subtitle != "" {
		script = fmt.Sprintf(
			`display notification "%s" with title "%s" subtitle "%s"`,
			message, title, subtitle,
		)
	}

	cmd := exec.Command("osascript", "-e", script)
	return cmd.Run()
}

// escapeAppleScript escapes characters that could break AppleScript strings.
func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
