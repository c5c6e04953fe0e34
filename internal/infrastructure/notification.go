package infrastructure

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/yourusername/chapterdl/internal/domain"
	"go.uber.org/zap"
)

// NotificationService handles sending desktop notifications
type NotificationService struct {
	config *domain.NotificationConfig
	logger *zap.Logger
	run    func(name string, args ...string) error
}

// NewNotificationService creates a new notification service
func NewNotificationService(config *domain.NotificationConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		config: config,
		logger: logger,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Send sends a notification
func (n *NotificationService) Send(title, message string) error {
	if n.config == nil || !n.config.Enabled {
		n.logger.Debug("Notifications disabled, skipping",
			zap.String("title", title),
			zap.String("message", message))
		return nil
	}

	method := resolveMethod(n.config.Method, runtime.GOOS)

	var err error
	switch method {
	case "osascript":
		script := fmt.Sprintf(`display notification %s with title %s`, appleScriptQuote(message), appleScriptQuote(title))
		err = n.run("osascript", "-e", script)
	case "notify-send":
		err = n.run("notify-send", title, message)
	default:
		n.logger.Warn("Unknown notification method", zap.String("method", method))
		return nil
	}

	if err != nil {
		n.logger.Error("Failed to send notification",
			zap.String("method", method),
			zap.Error(err))
		return err
	}

	n.logger.Debug("Notification sent",
		zap.String("title", title),
		zap.String("message", message))
	return nil
}

// NotifyChapterDownloaded sends notification when a chapter finished
func (n *NotificationService) NotifyChapterDownloaded(key domain.ChapterKey, name string) {
	n.Send("Chapter Downloaded", fmt.Sprintf("%s (%s)", truncateString(name, 40), key))
}

// NotifyChapterFailed sends notification when a chapter download failed
func (n *NotificationService) NotifyChapterFailed(key domain.ChapterKey, reason string) {
	n.Send("Download Failed", fmt.Sprintf("Chapter %s: %s", key, truncateString(reason, 60)))
}

// NotifyQueueEmpty sends notification when the queue has no queued chapter left
func (n *NotificationService) NotifyQueueEmpty() {
	n.Send("Queue Empty", "All chapters downloaded")
}

// resolveMethod maps "auto" (or empty) to the platform's notifier
func resolveMethod(method, goos string) string {
	if method != "" && method != "auto" {
		return method
	}
	if goos == "darwin" {
		return "osascript"
	}
	return "notify-send"
}

// appleScriptQuote returns s as an AppleScript string literal
func appleScriptQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// truncateString cuts s to maxLen runes
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
