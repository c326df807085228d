// Package logging provides structured logging for pixbridge.
//
// Logs are JSON lines written through log/slog, either to stderr or to
// bridge.log inside a log directory. Child loggers carry persistent
// attributes that identify where a line came from:
//
//	logger := logging.NopLogger()
//	logger.WithBridge("b-1").WithRun(runID).Info("batch delivered", "items", 3)
//
//	{"time":"...","level":"INFO","msg":"batch delivered","bridge_id":"b-1","run_id":"...","items":3}
//
// Native workers log through the callback table; their messages are routed
// into the same logger tagged with callback=log.
//
// # Rotation
//
// [RotatingWriter] rotates bridge.log once it exceeds MaxSizeMB. Backups are
// bridge.log.1 (newest) through bridge.log.N and are gzip compressed when
// Compress is set.
//
// # Aggregation
//
// [AggregateLogs] reads the current log and every backup, compressed or not,
// and [FilterLogs] narrows the result by level, time window, bridge, run or
// callback. [WriteLogEntries] renders entries as JSON, text or CSV.
//
// All types in this package are safe for concurrent use. Levels can be
// changed at runtime with [Logger.SetLevel]; the change is shared by every
// child logger.
package logging
