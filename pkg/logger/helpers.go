package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// LogChapterResult logs the terminal status of one chapter download
func LogChapterResult(log Logger, publication string, chapter string, status int, duration time.Duration) {
	if log == nil {
		log = GetLogger()
	}

	fields := map[string]interface{}{
		"publication": publication,
		"chapter":     chapter,
		"status":      status,
		"duration":    duration,
	}

	switch {
	case status >= 200 && status < 300:
		log.InfoWithFields("Chapter finished", fields)
	case status == 408:
		log.WarnWithFields("Chapter cancelled", fields)
	default:
		log.ErrorWithFields("Chapter failed", fields)
	}
}

// LogFetchAttempt logs a failed image fetch attempt that will be retried
func LogFetchAttempt(log Logger, url string, attempt, maxAttempts int, reason string) {
	if log == nil {
		log = GetLogger()
	}
	log.WarnWithFields("Image fetch attempt failed", map[string]interface{}{
		"url":          url,
		"attempt":      attempt,
		"max_attempts": maxAttempts,
		"reason":       reason,
	})
}

// LogJobEvent logs a scheduler lifecycle event for a job
func LogJobEvent(log Logger, jobID, event string, fields map[string]interface{}) {
	if log == nil {
		log = GetLogger()
	}

	merged := map[string]interface{}{
		"job_id": jobID,
		"event":  event,
	}
	for k, v := range fields {
		merged[k] = v
	}
	log.DebugWithFields("Job "+event, merged)
}

// LogComponentStart logs when a component starts
func LogComponentStart(component string, config map[string]interface{}) {
	logger := GetLogger().WithField("component", component)

	if len(config) > 0 {
		logger = logger.WithFields(config)
	}

	logger.Info("Component started")
}

// LogComponentStop logs when a component stops
func LogComponentStop(component string, reason string) {
	GetLogger().WithFields(map[string]interface{}{
		"component": component,
		"reason":    reason,
	}).Info("Component stopped")
}

// FormatPercent renders completed/total for log fields
func FormatPercent(completed, total int) string {
	if total <= 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(completed)/float64(total)*100)
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

// nopLogger is a logger that does nothing
type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}

func (n *nopLogger) GetZerolog() *zerolog.Logger {
	nop := zerolog.Nop()
	return &nop
}
