// Package logging provides structured logging with request correlation.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried through a confirmation flow.
type ContextKey string

const (
	// RequestIDKey is the context key for the SecureConfirm requestId.
	RequestIDKey ContextKey = "request_id"
	// SessionIDKey is the context key for a VRF signing session id.
	SessionIDKey ContextKey = "session_id"
	// AccountIDKey is the context key for the NEAR account id in scope.
	AccountIDKey ContextKey = "account_id"
	// ComponentKey is the context key for the originating component name.
	ComponentKey ContextKey = "component"
)

// Logger wraps logrus.Logger, tagging every entry with a component name.
type Logger struct {
	*logrus.Logger
	component string
}

// New creates a Logger for the given component, level and format ("json" or "text").
func New(component, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, component: component}
}

// NewFromEnv builds a Logger from LOG_LEVEL/LOG_FORMAT, defaulting to info/json.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// WithContext returns a logrus entry decorated with any correlation IDs on ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)
	if v := ctx.Value(RequestIDKey); v != nil {
		entry = entry.WithField("request_id", v)
	}
	if v := ctx.Value(SessionIDKey); v != nil {
		entry = entry.WithField("session_id", v)
	}
	if v := ctx.Value(AccountIDKey); v != nil {
		entry = entry.WithField("account_id", v)
	}
	return entry
}

// Info logs an info-level message with structured fields.
func (l *Logger) Info(ctx context.Context, message string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).Info(message)
}

// Warn logs a warning-level message with structured fields.
func (l *Logger) Warn(ctx context.Context, message string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).Warn(message)
}

// Error logs an error-level message, attaching err when present.
func (l *Logger) Error(ctx context.Context, message string, err error, fields map[string]interface{}) {
	entry := l.WithContext(ctx)
	if err != nil {
		entry = entry.WithField("error", err.Error())
	}
	entry.WithFields(fields).Error(message)
}

// Debug logs a debug-level message with structured fields.
func (l *Logger) Debug(ctx context.Context, message string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).Debug(message)
}

// LogDecision logs the single terminal audit line for a SecureConfirm request.
func (l *Logger) LogDecision(ctx context.Context, requestID, reqType string, confirmed bool, errKind string) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"request_id": requestID,
		"type":       reqType,
		"confirmed":  confirmed,
	})
	if errKind != "" {
		entry = entry.WithField("error_kind", errKind)
	}
	entry.Info("secure confirm decision")
}

// LogSessionTransition logs a VRF signing session state transition.
func (l *Logger) LogSessionTransition(ctx context.Context, sessionID, from, to string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"session_id": sessionID,
		"from":       from,
		"to":         to,
	}).Info("vrf session transition")
}

// NewRequestID generates a correlation id for a new request.
func NewRequestID() string {
	return uuid.New().String()
}

// WithRequestID returns a context carrying requestID for downstream logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithSessionID returns a context carrying sessionID for downstream logging.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithAccountID returns a context carrying accountID for downstream logging.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, AccountIDKey, accountID)
}
