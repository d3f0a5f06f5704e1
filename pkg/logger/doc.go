// Package logger provides structured logging for coursedl.
//
// It wraps zerolog behind a small interface so components can be handed a
// NopLogger or TestLogger in tests. Console output is colored and written to
// stderr; when a log file is configured, records are also appended there.
//
//	logger.Initialize(&cfg.Logging)
//	log := logger.GetLogger().WithField("component", "fetcher")
//	log.InfoWithFields("Download completed", map[string]interface{}{
//	    "url":  mediaURL,
//	    "path": dest,
//	})
package logger
