// Package logging writes ralph's structured debug log.
//
// Records are JSON lines produced by log/slog and land in debug.log under the
// log root. A logger scoped with [Logger.WithRun] stamps run_id on every
// record and [Logger.WithIteration] adds the iteration number, so one file
// can hold many runs and still be sliced afterwards with [ReadEntries] and
// [FilterEntries] (this is what `ralph logs --debug` does).
//
//	logger, err := logging.NewLoggerWithRotation(dir, "info", logging.RotationConfig{
//	    MaxSizeMB:  10,
//	    MaxBackups: 3,
//	})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.WithRun(runID).WithIteration(3).Warn("worker exited non-zero", "exit_code", 1)
//	// {"time":"...","level":"WARN","msg":"worker exited non-zero","run_id":"...","iteration":3,"exit_code":1}
//
// When debug.log would grow past MaxSizeMB it is renamed to debug.log.1, older
// backups shift up by one, and anything past MaxBackups is removed.
// [NopLogger] discards everything and is what runs get when logging.enabled
// is false.
package logging
