// Package logger provides the structured logging interface used across chaptervault.
//
// It wraps zerolog behind the Logger interface so components can be handed a
// logger at construction time (or fall back to the global one) and tests can
// substitute NewNopLogger or NewTestLogger.
//
//	if err := logger.Initialize(&cfg.Logging); err != nil {
//	    return err
//	}
//	log := logger.GetLogger().WithField("component", "scheduler")
//	log.InfoWithFields("Job executed", map[string]interface{}{
//	    "job_id":   job.ID(),
//	    "duration": time.Since(start),
//	})
//
// Two output formats are supported: "console" (coloured, human oriented) and
// "json" (one object per line). When File is set, lines are also appended to it.
package logger
