// Package notify provides a multi-channel notification system. Alerts
// are dispatched to all registered senders (Telegram, Discord, etc.)
// and filtered by severity so operators receive only the alerts they
// care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Severity orders alerts from routine to critical.
type Severity int

const (
	SeverityInfo Severity = iota
	SeveritySuccess
	SeverityWarning
	SeverityError
	SeverityEmergency
)

var severityNames = map[Severity]string{
	SeverityInfo:      "info",
	SeveritySuccess:   "success",
	SeverityWarning:   "warning",
	SeverityError:     "error",
	SeverityEmergency: "emergency",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// ParseSeverity maps a config string to a Severity, defaulting to info.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success":
		return SeveritySuccess
	case "warning":
		return SeverityWarning
	case "error":
		return SeverityError
	case "emergency":
		return SeverityEmergency
	default:
		return SeverityInfo
	}
}

// severityPrefix is prepended to the title so channels without rich
// formatting still show the alert class at a glance.
var severityPrefix = map[Severity]string{
	SeverityInfo:      "ℹ️",
	SeveritySuccess:   "✅",
	SeverityWarning:   "⚠️",
	SeverityError:     "❌",
	SeverityEmergency: "🚨",
}

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches alerts to one or more Senders. Alerts below the
// configured minimum severity are dropped; emergencies always go out.
type Notifier struct {
	senders []Sender
	min     Severity
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Alerts
// with severity below min are silently dropped.
func NewNotifier(senders []Sender, min Severity, logger *slog.Logger) *Notifier {
	return &Notifier{
		senders: senders,
		min:     min,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends an alert to all senders when it meets the minimum
// severity.
func (n *Notifier) Notify(ctx context.Context, sev Severity, title, message string) error {
	if sev < n.min {
		n.logger.DebugContext(ctx, "alert filtered out",
			slog.String("severity", sev.String()),
			slog.String("title", title),
		)
		return nil
	}
	return n.dispatch(ctx, sev, title, message)
}

// dispatch iterates over all senders and sends the alert. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, sev Severity, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	title = severityPrefix[sev] + " " + title

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "alert sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
