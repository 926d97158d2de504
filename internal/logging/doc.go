// Package logging provides structured logging for memsync.
//
// Logging wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Stderr and/or file output, leaving stdout to reports
//   - Context field injection (trace_id, run.id, run.stage)
//   - Secret redaction by field name and value pattern
//   - Optional level-aware sampling (errors never sampled)
//
// Create a logger from the user settings:
//
//	cfg, err := logging.FromSettings(appCfg.Logging)
//	if err != nil {
//	    return err
//	}
//	logger, err := logging.NewLogger(cfg)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
// Log with context:
//
//	ctx = logging.WithRunID(ctx, report.RunID)
//	logger.Info(ctx, "metadata saved", zap.Int("records", n))
//
// Library packages accept a *zap.Logger; pass logger.Underlying().
//
// Use TestLogger for test assertions:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "test message", zap.String("key", "value"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "test message")
//	tl.AssertNoSecrets(t)
package logging
