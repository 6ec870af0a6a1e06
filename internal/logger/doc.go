// Package logger wraps zap for the reconciliation client and its tools.
//
// Binaries call Init once and hand logger.L() to the Builder:
//
//	logger.Init(logger.Config{Format: "json", Level: "info"})
//	defer logger.Sync()
//
// Libraries fall back to a console logger at info when Init was not called.
// Tests pass zap.NewNop() through the Builder instead. The field helpers and
// MaskEmail keep log keys consistent across flows.
package logger
