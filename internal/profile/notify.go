package profile

import "log/slog"

// Notifier shows short user-facing messages.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}

func (n LogNotifier) Success(msg string) { n.logger().Info(msg, "notice", "success") }
func (n LogNotifier) Error(msg string)   { n.logger().Warn(msg, "notice", "error") }

// NotifierFuncs adapts a pair of functions to Notifier. Nil funcs are skipped.
type NotifierFuncs struct {
	OnSuccess func(msg string)
	OnError   func(msg string)
}

func (n NotifierFuncs) Success(msg string) {
	if n.OnSuccess != nil {
		n.OnSuccess(msg)
	}
}

func (n NotifierFuncs) Error(msg string) {
	if n.OnError != nil {
		n.OnError(msg)
	}
}
