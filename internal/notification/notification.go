// Package notification provides cross-platform desktop notifications.
// It uses the beeep library to send notifications on macOS, Linux, and Windows.
package notification

import (
	"github.com/gen2brain/beeep"
	"github.com/troupe-dev/troupe/internal/logger"
)

// Send sends a desktop notification with the given title and message.
// On macOS, it uses terminal-notifier or AppleScript.
// On Linux, it uses D-Bus or notify-send.
// On Windows, it uses the Windows Runtime COM API.
func Send(title, message string) error {
	logger.Debug("Notification: Sending notification - title=%q, message=%q", title, message)
	// Use empty string for icon - beeep handles platform defaults
	err := beeep.Notify(title, message, "")
	if err != nil {
		logger.Debug("Notification: Failed to send notification: %v", err)
	}
	return err
}

// DiffChanged sends a notification that a session produced new changes.
func DiffChanged(sessionName string) error {
	return Send("Troupe", sessionName+" has new changes")
}

// SessionReady sends a notification that a session finished provisioning.
func SessionReady(sessionName string) error {
	return Send("Troupe", sessionName+" is ready")
}
