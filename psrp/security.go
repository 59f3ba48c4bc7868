package psrp

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Security event types, per NIST SP 800-92.
const (
	eventConnection   = "connection"
	eventCommand      = "command"
	eventReconnection = "reconnection"
	eventSession      = "session"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

const (
	severityInfo    = "INFO"
	severityWarning = "WARNING"
	severityError   = "ERROR"
)

// securityEvent is a NIST SP 800-92 structured security log record.
type securityEvent struct {
	Timestamp     string         `json:"timestamp"`
	EventType     string         `json:"event_type"`
	Subtype       string         `json:"subtype,omitempty"`
	Component     string         `json:"component"`
	CorrelationID string         `json:"correlation_id"`
	User          string         `json:"user,omitempty"`
	Target        string         `json:"target"`
	Outcome       string         `json:"outcome"`
	Severity      string         `json:"severity"`
	Details       map[string]any `json:"details,omitempty"`
}

func newSecurityEvent(eventType, subtype, correlationID, target, outcome, severity string) *securityEvent {
	return &securityEvent{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		EventType:     eventType,
		Subtype:       subtype,
		Component:     "go-psrp/psrp",
		CorrelationID: correlationID,
		Target:        target,
		Outcome:       outcome,
		Severity:      severity,
		Details:       make(map[string]any),
	}
}

func (e *securityEvent) withUser(user string) *securityEvent {
	e.User = user
	return e
}

func (e *securityEvent) withDetail(key string, value any) *securityEvent {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *securityEvent) log(logger *slog.Logger) {
	if logger == nil {
		return
	}
	logFn := logger.Info
	switch e.Severity {
	case severityError:
		logFn = logger.Error
	case severityWarning:
		logFn = logger.Warn
	}
	logFn("security_event",
		"event_type", e.EventType,
		"subtype", e.Subtype,
		"correlation_id", e.CorrelationID,
		"user", e.User,
		"target", e.Target,
		"outcome", e.Outcome,
		"severity", e.Severity,
		"details", e.Details,
	)
}

func (e *securityEvent) json() string {
	data, err := json.Marshal(e)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// securityLogger emits correlated security events for one Client's lifetime.
type securityLogger struct {
	logger        *slog.Logger
	correlationID string
	user          string
	target        string
}

func newSecurityLogger(logger *slog.Logger, user, target string) *securityLogger {
	return &securityLogger{
		logger:        logger,
		correlationID: uuid.New().String(),
		user:          user,
		target:        target,
	}
}

func (sl *securityLogger) logSession(subtype, outcome, severity string, details map[string]any) {
	e := newSecurityEvent(eventSession, subtype, sl.correlationID, sl.target, outcome, severity).withUser(sl.user)
	for k, v := range details {
		e.withDetail(k, v)
	}
	e.log(sl.logger)
}

func (sl *securityLogger) logConnection(subtype, outcome, severity string, details map[string]any) {
	e := newSecurityEvent(eventConnection, subtype, sl.correlationID, sl.target, outcome, severity).withUser(sl.user)
	for k, v := range details {
		e.withDetail(k, v)
	}
	e.log(sl.logger)
}

func (sl *securityLogger) logCommand(subtype, outcome, severity, script string, details map[string]any) {
	e := newSecurityEvent(eventCommand, subtype, sl.correlationID, sl.target, outcome, severity).
		withUser(sl.user).
		withDetail("script_preview", truncateScript(script, 100))
	for k, v := range details {
		e.withDetail(k, v)
	}
	e.log(sl.logger)
}

func truncateScript(script string, maxLen int) string {
	if len(script) <= maxLen {
		return script
	}
	return script[:maxLen] + "..."
}
