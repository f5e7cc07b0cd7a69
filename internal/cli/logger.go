package cli

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger returns a JSON logger on stderr: debug with --verbose, warnings
// otherwise, nothing with --quiet.
func newLogger(globals *Globals) *zap.Logger {
	if globals == nil || globals.Quiet || globals.Stderr == nil {
		return zap.NewNop()
	}
	level := zapcore.WarnLevel
	if globals.Verbose {
		level = zapcore.DebugLevel
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(zapcore.AddSync(globals.Stderr)),
		level,
	)
	return zap.New(core)
}
